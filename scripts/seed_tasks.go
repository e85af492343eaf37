// seed_tasks.go: standalone script to turn a markdown plan into a task graph via the Switchboard API.
//
// Every "## " section is a phase. Each open item ("- [ ] ...") in a phase
// depends on every item of the phase before it. A trailing "(needs: go, sql)"
// sets the required capabilities.
//
// Usage:
//
//	go run scripts/seed_tasks.go -plan /path/to/PLAN.md -project switchboard -api http://localhost:8700
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
)

type taskRequest struct {
	ProjectID            string   `json:"project_id"`
	Title                string   `json:"title"`
	TaskType             string   `json:"task_type,omitempty"`
	Priority             int      `json:"priority,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	DependsOn            []string `json:"depends_on,omitempty"`
}

type planItem struct {
	phase int
	req   taskRequest
}

// Priority emoji to task priority
var priorityMap = map[string]int{
	"🔴": 3, // P0
	"🟠": 2, // P1
	"🟡": 1, // P2
	"🟢": 0, // P3
}

func main() {
	planPath := flag.String("plan", "PLAN.md", "path to the markdown plan")
	project := flag.String("project", "", "project id for every task")
	apiURL := flag.String("api", "http://localhost:8700", "Switchboard API base URL")
	dryRun := flag.Bool("dry-run", false, "print tasks without posting")
	flag.Parse()

	if *project == "" {
		log.Fatal("-project is required")
	}

	f, err := os.Open(*planPath)
	if err != nil {
		log.Fatalf("open plan: %v", err)
	}
	defer f.Close()

	var items []planItem
	phase := 0
	section := ""
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "## ") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))
			if len(items) > 0 && items[len(items)-1].phase == phase {
				phase++
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- [ ] ") {
			continue
		}
		text := strings.TrimPrefix(trimmed, "- [ ] ")

		priority := 0
		for emoji, p := range priorityMap {
			if strings.Contains(text, emoji) {
				priority = p
				text = strings.TrimSpace(strings.ReplaceAll(text, emoji, ""))
				break
			}
		}

		var needs []string
		if i := strings.Index(text, "(needs:"); i >= 0 && strings.HasSuffix(text, ")") {
			for _, c := range strings.Split(text[i+len("(needs:"):len(text)-1], ",") {
				if c = strings.TrimSpace(c); c != "" {
					needs = append(needs, c)
				}
			}
			text = strings.TrimSpace(text[:i])
		}

		items = append(items, planItem{
			phase: phase,
			req: taskRequest{
				ProjectID:            *project,
				Title:                text,
				TaskType:             taskType(section),
				Priority:             priority,
				RequiredCapabilities: needs,
			},
		})
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("scan plan: %v", err)
	}

	log.Printf("parsed %d tasks in %d phases from %s", len(items), phase+1, *planPath)

	if *dryRun {
		for i, it := range items {
			fmt.Printf("[%d] phase %d: %s (type=%s, priority=%d, needs=%v)\n",
				i+1, it.phase, it.req.Title, it.req.TaskType, it.req.Priority, it.req.RequiredCapabilities)
		}
		return
	}

	client := &http.Client{}
	created, skipped := 0, 0
	var previous, current []string
	currentPhase := 0
	for _, it := range items {
		if it.phase != currentPhase {
			previous, current = current, nil
			currentPhase = it.phase
		}
		it.req.DependsOn = previous

		id, err := post(client, *apiURL+"/api/v1/tasks", it.req)
		if err != nil {
			log.Printf("skip %q: %v", it.req.Title, err)
			skipped++
			continue
		}
		current = append(current, id)
		created++
	}

	log.Printf("done: %d created, %d skipped", created, skipped)
}

func post(client *http.Client, url string, tr taskRequest) (string, error) {
	body, _ := json.Marshal(tr)
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func taskType(section string) string {
	switch {
	case strings.Contains(section, "infra"):
		return "infrastructure"
	case strings.Contains(section, "test"):
		return "testing"
	case strings.Contains(section, "doc"):
		return "documentation"
	case strings.Contains(section, "research"):
		return "research"
	default:
		return "general"
	}
}
