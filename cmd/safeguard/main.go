// Command safeguard inspects operations offline: it runs the same risk
// assessment and rollback planning the engine applies at submission time,
// without executing anything.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldgrid/safeguard/assess"
	"github.com/fieldgrid/safeguard/config"
	"github.com/fieldgrid/safeguard/policy"
	"github.com/fieldgrid/safeguard/rollback"
	"github.com/fieldgrid/safeguard/types"
)

var rootCmd = &cobra.Command{
	Use:   "safeguard",
	Short: "Safeguard operation safety toolkit",
	Long: `Safeguard classifies proposed database and business operations by risk
before they reach the shared data store. This CLI runs the assessment and
rollback planning offline so operators can preview what the engine would
decide.`,
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "path to safeguard config file")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(policyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadPolicies() (*policy.Store, error) {
	path := viper.GetString("config")
	if path == "" {
		return policy.DefaultStore(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg.PolicyStore(), nil
}

func assessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assess <sql>",
		Short: "Assess the risk of a raw SQL statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := loadPolicies()
			if err != nil {
				return err
			}

			assessor := assess.NewAssessor(policies, nil, nil)
			result := assessor.Assess(context.Background(), &types.ExecutionRequest{
				ID:        "offline",
				Operation: types.QueryOperation{SQL: args[0]},
				Priority:  types.PriorityNormal,
			})

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Category", "Severity", "Message"})
			for _, issue := range result.Issues {
				t.AppendRow(table.Row{issue.Category, issue.Severity, issue.Message})
			}
			t.Render()

			fmt.Printf("\nrisk: %s  valid: %t  requires approval: %t\n",
				result.RiskLevel, result.Valid, result.RequiresApproval)
			for _, rec := range result.Recommendations {
				fmt.Println("  -", rec)
			}
			return nil
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <sql>",
		Short: "Show the rollback plan for a raw SQL statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planner := rollback.NewPlanner()
			plan := planner.Plan(&types.ExecutionRequest{
				ID:        "offline",
				Operation: types.QueryOperation{SQL: args[0]},
			})

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Order", "Type", "Description", "Risk"})
			for _, op := range plan.Operations {
				t.AppendRow(table.Row{op.Order, op.Type, op.Description, op.Risk})
			}
			t.Render()

			fmt.Printf("\ncomplexity: %s  can rollback: %t  estimated minutes: %d\n",
				plan.Complexity, plan.CanRollback, plan.EstimatedMinutes)
			return nil
		},
	}
	return cmd
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "List the active safety policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := loadPolicies()
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"List", "Table"})
			for _, name := range policies.CriticalTables() {
				t.AppendRow(table.Row{"critical", name})
			}
			for _, name := range policies.PersonalDataTables() {
				t.AppendRow(table.Row{"personal_data", name})
			}
			t.Render()

			fmt.Println("\npatterns:")
			for _, p := range policies.Patterns() {
				fmt.Printf("  %-20s %s/%s  %s\n", p.ID, p.Category, p.Severity, p.Message)
			}
			return nil
		},
	}
	return cmd
}
