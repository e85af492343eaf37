package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Switchboard/internal/client"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskReadyCmd())
	cmd.AddCommand(taskAssignCmd())
	cmd.AddCommand(taskReopenCmd())
	cmd.AddCommand(taskCandidatesCmd())
	return cmd
}

func printTasks(tasks []store.Task) error {
	return render(tasks, table.Row{"ID", "Project", "Title", "Status", "Priority", "Agent"}, func(tw table.Writer) {
		for _, t := range tasks {
			tw.AppendRow(table.Row{t.ID, t.ProjectID, t.Title, t.Status, t.Priority, t.AssignedAgent})
		}
	})
}

func printTask(t store.Task) error {
	return render(t, table.Row{"Field", "Value"}, func(tw table.Writer) {
		tw.AppendRows([]table.Row{
			{"ID", t.ID},
			{"Project", t.ProjectID},
			{"Title", t.Title},
			{"Type", t.TaskType},
			{"Status", t.Status},
			{"Priority", t.Priority},
			{"Needs", strings.Join(t.RequiredCapabilities, ", ")},
			{"Resources", strings.Join(t.Resources, ", ")},
			{"Agent", t.AssignedAgent},
		})
	})
}

func taskListCmd() *cobra.Command {
	var q client.TaskQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newClient().Tasks(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
	cmd.Flags().StringVar(&q.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&q.Agent, "agent", "", "assigned agent")
	cmd.Flags().StringVar(&q.Status, "status", "", "task status")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			t, err := newClient().Task(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var nt client.NewTask
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nt.ProjectID == "" || nt.Title == "" {
				return fmt.Errorf("--project and --title are required")
			}
			t, err := newClient().CreateTask(cmd.Context(), nt)
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
	cmd.Flags().StringVar(&nt.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&nt.Title, "title", "", "task title")
	cmd.Flags().StringVar(&nt.Description, "description", "", "task description")
	cmd.Flags().StringVar(&nt.TaskType, "type", "", "task type")
	cmd.Flags().IntVar(&nt.Priority, "priority", 0, "priority, higher first")
	cmd.Flags().StringSliceVar(&nt.RequiredCapabilities, "needs", nil, "required capabilities")
	cmd.Flags().StringSliceVar(&nt.Resources, "resources", nil, "claimed resources")
	cmd.Flags().StringSliceVar(&nt.DependsOn, "depends-on", nil, "blocking parent task ids")
	return cmd
}

func taskReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready <project>",
		Short: "List tasks ready for assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newClient().Ready(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTasks(tasks)
		},
	}
}

func taskAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <task-id> <agent-id>",
		Short: "Assign a pending task to an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			t, err := newClient().Assign(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
}

func taskReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <task-id>",
		Short: "Return a failed task to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			t, err := newClient().Reopen(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printTask(t)
		},
	}
}

func taskCandidatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <task-id>",
		Short: "Rank agents for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			ranked, err := newClient().Candidates(cmd.Context(), id)
			if err != nil {
				return err
			}
			return render(ranked, table.Row{"#", "Agent", "Match", "Performance"}, func(tw table.Writer) {
				for i, cs := range ranked {
					tw.AppendRow(table.Row{i + 1, cs.AgentID, fmt.Sprintf("%.2f", cs.Match), fmt.Sprintf("%.1f", cs.Performance)})
				}
			})
		},
	}
}

func depCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}
	var kind string
	add := &cobra.Command{
		Use:   "add <parent-id> <child-id>",
		Short: "Make child depend on parent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid parent id: %w", err)
			}
			child, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid child id: %w", err)
			}
			dep, err := newClient().AddDependency(cmd.Context(), parent, child, store.DependencyKind(kind))
			if err != nil {
				return err
			}
			return render(dep, table.Row{"ID", "Parent", "Child", "Kind"}, func(tw table.Writer) {
				tw.AppendRow(table.Row{dep.ID, dep.ParentID, dep.ChildID, dep.Kind})
			})
		},
	}
	add.Flags().StringVar(&kind, "kind", string(store.DependencyBlocking), "blocking, soft or resource")
	cmd.AddCommand(add)
	return cmd
}
