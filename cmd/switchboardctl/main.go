package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MikeSquared-Agency/Switchboard/internal/client"
)

var rootCmd = &cobra.Command{
	Use:   "switchboardctl",
	Short: "Switchboard operator CLI",
	Long: `switchboardctl inspects and steers a running Switchboard.
- Tasks form a dependency graph per project; ready tasks are assigned to the best matching agent.
- Conflicts that cannot be resolved automatically wait for a human decision.
- Every change is an event; deliveries to subscribers that ran out of attempts can be requeued.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SWITCHBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("token", "SWITCHBOARD_ADMIN_TOKEN")
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("api", "http://localhost:8700", "Switchboard API base URL")
	rootCmd.PersistentFlags().String("token", "", "admin bearer token")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(deliveryCmd())
	rootCmd.AddCommand(agentCmd())
}

func newClient() *client.Client {
	return client.New(viper.GetString("api"), client.WithToken(viper.GetString("token")))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON with --json, otherwise as a table built by fill.
func render(v any, header table.Row, fill func(tw table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	fill(tw)
	tw.Render()
	return nil
}

func short(id fmt.Stringer) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
