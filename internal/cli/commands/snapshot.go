package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture and restore the whole file table",
	Long: `Manage snapshots of every file in the pool.

A snapshot shares blocks with the live files, so taking one costs no data
blocks. Names need not be unique; commands that take a NAME act on the
oldest snapshot with that name.

Subcommands:
  create    Capture all files
  ls        List snapshots
  rollback  Replace all files with a snapshot
  rm        Delete a snapshot and release its blocks
  tag       Add a tag to a snapshot
  find      List snapshots carrying a tag

Examples:
  cowfs snapshot create before-upgrade -m "known good state"
  cowfs snapshot tag before-upgrade stable
  cowfs snapshot rollback before-upgrade`,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Capture all files",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List snapshots",
	Args:    cobra.NoArgs,
	RunE:    runSnapshotList,
}

var snapshotRollbackCmd = &cobra.Command{
	Use:   "rollback NAME",
	Short: "Replace all files with a snapshot",
	Long: `Replaces the live file table with the snapshot's files. Files created
after the snapshot are dropped. The snapshot itself is kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotRollback,
}

var snapshotRemoveCmd = &cobra.Command{
	Use:     "rm NAME",
	Aliases: []string{"delete"},
	Short:   "Delete a snapshot and release its blocks",
	Args:    cobra.ExactArgs(1),
	RunE:    runSnapshotRemove,
}

var snapshotTagCmd = &cobra.Command{
	Use:   "tag NAME TAG",
	Short: "Add a tag to a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE:  runSnapshotTag,
}

var snapshotFindCmd = &cobra.Command{
	Use:   "find TAG",
	Short: "List snapshots carrying a tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotFind,
}

var snapshotMessage string
var snapshotTagMessage string

func init() {
	snapshotCreateCmd.Flags().StringVarP(&snapshotMessage, "message", "m", "", "Snapshot description")
	snapshotTagCmd.Flags().StringVarP(&snapshotTagMessage, "message", "m", "", "Tag description")
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotRollbackCmd)
	snapshotCmd.AddCommand(snapshotRemoveCmd)
	snapshotCmd.AddCommand(snapshotTagCmd)
	snapshotCmd.AddCommand(snapshotFindCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.CreateSnapshot(args[0], snapshotMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created snapshot %d %s (%d file(s), %s)\n",
		info.ID, info.Name, info.InodeCount, formatBytes(info.TotalSize))
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	snapshots, err := client.ListSnapshots()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots")
		return nil
	}
	printSnapshotList(cmd.OutOrStdout(), snapshots)
	return nil
}

func runSnapshotRollback(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.RollbackSnapshot(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to snapshot %d %s (%d file(s))\n", info.ID, info.Name, info.InodeCount)
	return nil
}

func runSnapshotRemove(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeleteSnapshot(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed snapshot %s\n", args[0])
	return nil
}

func runSnapshotTag(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.TagSnapshot(args[0], args[1], snapshotTagMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Tagged snapshot %d %s as %s\n", info.ID, info.Name, args[1])
	return nil
}

func runSnapshotFind(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	snapshots, err := client.FindSnapshots(args[0])
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No snapshots tagged %s\n", args[0])
		return nil
	}
	printSnapshotList(cmd.OutOrStdout(), snapshots)
	return nil
}
