package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Switchboard/internal/client"
	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

func conflictCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "conflict", Short: "Inspect and decide conflicts"}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := newClient().Conflicts(cmd.Context(), status)
			if err != nil {
				return err
			}
			return render(cs, table.Row{"ID", "Type", "Severity", "Status", "Title", "Tasks"}, func(tw table.Writer) {
				for _, c := range cs {
					tasks := make([]string, 0, len(c.AffectedTasks))
					for _, id := range c.AffectedTasks {
						tasks = append(tasks, short(id))
					}
					tw.AppendRow(table.Row{c.ID, c.Type, c.Severity, c.Status, c.Title, strings.Join(tasks, " ")})
				}
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "conflict status, e.g. escalated")

	var d client.Decision
	decide := &cobra.Command{
		Use:   "decide <conflict-id>",
		Short: "Record a human decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid conflict id: %w", err)
			}
			if d.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			res, err := newClient().Decide(cmd.Context(), id, d)
			if err != nil {
				return err
			}
			if res.Warning != "" {
				fmt.Fprintln(os.Stderr, "warning:", res.Warning)
			}
			return render(res, table.Row{"Conflict", "Status", "Decision", "By"}, func(tw table.Writer) {
				tw.AppendRow(table.Row{res.Conflict.ID, res.Conflict.Status, res.Decision.DecisionType, res.Decision.UserID})
			})
		},
	}
	decide.Flags().StringVar(&d.UserID, "user", "", "deciding user")
	decide.Flags().StringVar(&d.DecisionType, "type", string(store.DecisionApprove), "approve, reject, modify or escalate")
	decide.Flags().StringVar(&d.Reasoning, "reason", "", "reasoning")

	cmd.AddCommand(list, decide)
	return cmd
}

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "event", Short: "Inspect the event log"}
	var (
		aggregate string
		limit     int
	)
	tail := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := newClient().Events(cmd.Context(), aggregate, limit)
			if err != nil {
				return err
			}
			return render(events, table.Row{"Occurred", "Type", "Aggregate", "Version", "Processed"}, func(tw table.Writer) {
				for _, e := range events {
					tw.AppendRow(table.Row{
						e.OccurredAt.Format("2006-01-02 15:04:05"), e.EventType,
						e.AggregateType + "/" + e.AggregateID, e.Version, e.Processed,
					})
				}
			})
		},
	}
	tail.Flags().StringVar(&aggregate, "aggregate", "", "aggregate id")
	tail.Flags().IntVar(&limit, "limit", 50, "maximum events")
	cmd.AddCommand(tail)
	return cmd
}

func deliveryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "delivery", Short: "Inspect and requeue event deliveries"}

	var statuses []string
	list := &cobra.Command{
		Use:   "list",
		Short: "List deliveries by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := newClient().Deliveries(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			return render(rows, table.Row{"ID", "Event", "Subscriber", "Status", "Attempts", "Error"}, func(tw table.Writer) {
				for _, r := range rows {
					tw.AppendRow(table.Row{
						r.ID, short(r.EventID), r.SubscriberID, r.Status,
						fmt.Sprintf("%d/%d", r.Attempts, r.MaxAttempts), r.Error,
					})
				}
			})
		},
	}
	list.Flags().StringSliceVar(&statuses, "status", []string{string(store.DeliveryFailed)}, "delivery statuses")

	requeue := &cobra.Command{
		Use:   "requeue <delivery-id>...",
		Short: "Reset failed deliveries for the next sweep",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			for _, raw := range args {
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid delivery id %q: %w", raw, err)
				}
				row, err := c.Requeue(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				fmt.Printf("requeued %s (%s)\n", row.ID, row.SubscriberID)
			}
			return nil
		},
	}

	cmd.AddCommand(list, requeue)
	return cmd
}

func agentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agent", Short: "Inspect agents"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents with their track record",
		RunE: func(cmd *cobra.Command, args []string) error {
			agents, err := newClient().Agents(cmd.Context())
			if err != nil {
				return err
			}
			return render(agents, table.Row{"Agent", "Available", "Active", "Performance", "Skills"}, func(tw table.Writer) {
				for _, a := range agents {
					tw.AppendRow(table.Row{a.ID, a.Available, a.ActiveTasks, fmt.Sprintf("%.1f", a.OverallPerformance), skills(a.Skills)})
				}
			})
		},
	})
	return cmd
}

func skills(m map[string]float64) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%g", name, m[name]))
	}
	return strings.Join(parts, ", ")
}
