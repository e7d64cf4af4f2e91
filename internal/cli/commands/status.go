package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool usage and metrics",
	Long: `Shows block and file counts, space usage, the deduplication ratio and
operation metrics of the running pool.

The dedup ratio is referenced bytes (counted once per claim) over physical
bytes (counted once per block).`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check block accounting",
	Long: `Recounts the claims every file, version and snapshot holds on each block
and compares them with the pool. Exits with an error if anything is off.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard all files, snapshots and versions",
	Long: `Empties the pool. Pool settings saved with 'cowfs daemon config' since the
daemon started are applied.

Examples:
  # Reset without confirmation
  cowfs reset -y`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

var resetMetricsCmd = &cobra.Command{
	Use:   "reset-metrics",
	Short: "Zero operation counters and timings",
	Args:  cobra.NoArgs,
	RunE:  runResetMetrics,
}

var resetSkipConfirm bool

func init() {
	resetCmd.Flags().BoolVarP(&resetSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(resetMetricsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Status()
	if err != nil {
		return err
	}
	if resp.Status == nil {
		return fmt.Errorf("daemon returned no status")
	}
	printStatus(cmd.OutOrStdout(), resp.PID, resp.Status)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	issues, err := client.Verify()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(issues) == 0 {
		fmt.Fprintln(out, "Block accounting is consistent")
		return nil
	}
	fmt.Fprintf(out, "Found %d inconsistencies:\n", len(issues))
	printIssues(out, issues)
	return fmt.Errorf("verify found %d inconsistencies", len(issues))
}

func runReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if !resetSkipConfirm {
		fmt.Fprintln(out, "This will discard every file, snapshot and version in the pool.")
		fmt.Fprint(out, "Continue? [y/N] ")

		reader := bufio.NewReader(cmd.InOrStdin())
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))

		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Reset cancelled")
			return nil
		}
	}

	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Reset()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Message)
	return nil
}

func runResetMetrics(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ResetMetrics(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Metrics reset")
	return nil
}
