package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Inspect the block pool",
}

var blockListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List pool blocks",
	Long: `Lists every block slot with its state and claim count. Blocks with more
than one claim are marked shared; blocks that were reused by content are
marked dedup.

Examples:
  # Only blocks that hold data
  cowfs block ls --used`,
	Args: cobra.NoArgs,
	RunE: runBlockList,
}

var blockUsedOnly bool

func init() {
	blockListCmd.Flags().BoolVar(&blockUsedOnly, "used", false, "Only show blocks holding data")
	blockCmd.AddCommand(blockListCmd)
	rootCmd.AddCommand(blockCmd)
}

func runBlockList(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	blocks, err := client.ListBlocks(blockUsedOnly)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No blocks")
		return nil
	}
	printBlockList(cmd.OutOrStdout(), blocks)
	return nil
}
