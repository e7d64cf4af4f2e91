package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Per-file version history",
	Long: `Manage versions of a single file.

A version records a file's current blocks. Rolling back points the file at
those blocks again; the version history itself is unchanged.

Examples:
  cowfs version create notes -m "first draft"
  cowfs version ls notes
  cowfs version tag notes 1 draft
  cowfs version rollback notes 1`,
}

var versionCreateCmd = &cobra.Command{
	Use:   "create FILE",
	Short: "Record the file's current content",
	Args:  cobra.ExactArgs(1),
	RunE:  runVersionCreate,
}

var versionListCmd = &cobra.Command{
	Use:     "ls FILE",
	Aliases: []string{"list"},
	Short:   "List a file's versions",
	Args:    cobra.ExactArgs(1),
	RunE:    runVersionList,
}

var versionRollbackCmd = &cobra.Command{
	Use:   "rollback FILE ID",
	Short: "Restore a file to a version",
	Args:  cobra.ExactArgs(2),
	RunE:  runVersionRollback,
}

var versionTagCmd = &cobra.Command{
	Use:   "tag FILE ID TAG",
	Short: "Add a tag to a version",
	Args:  cobra.ExactArgs(3),
	RunE:  runVersionTag,
}

var versionFindCmd = &cobra.Command{
	Use:   "find FILE TAG",
	Short: "List a file's versions carrying a tag",
	Args:  cobra.ExactArgs(2),
	RunE:  runVersionFind,
}

var versionMessage string
var versionTagMessage string

func init() {
	versionCreateCmd.Flags().StringVarP(&versionMessage, "message", "m", "", "Version description")
	versionTagCmd.Flags().StringVarP(&versionTagMessage, "message", "m", "", "Tag description")
	versionCmd.AddCommand(versionCreateCmd)
	versionCmd.AddCommand(versionListCmd)
	versionCmd.AddCommand(versionRollbackCmd)
	versionCmd.AddCommand(versionTagCmd)
	versionCmd.AddCommand(versionFindCmd)
	rootCmd.AddCommand(versionCmd)
}

// parseVersionID parses a positive version id argument
func parseVersionID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid version id %q: must be a positive number", s)
	}
	return id, nil
}

func runVersionCreate(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.CreateVersion(args[0], versionMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created version %d of %s (%s)\n", info.ID, args[0], formatBytes(info.Size))
	return nil
}

func runVersionList(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	versions, err := client.ListVersions(args[0])
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No versions of %s\n", args[0])
		return nil
	}
	printVersionList(cmd.OutOrStdout(), versions)
	return nil
}

func runVersionRollback(cmd *cobra.Command, args []string) error {
	id, err := parseVersionID(args[1])
	if err != nil {
		return err
	}

	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.RollbackVersion(args[0], id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s to version %d (%s)\n", info.Name, id, formatBytes(info.Size))
	return nil
}

func runVersionTag(cmd *cobra.Command, args []string) error {
	id, err := parseVersionID(args[1])
	if err != nil {
		return err
	}

	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.TagVersion(args[0], id, args[2], versionTagMessage); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Tagged version %d of %s as %s\n", id, args[0], args[2])
	return nil
}

func runVersionFind(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	versions, err := client.FindVersions(args[0], args[1])
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No versions of %s tagged %s\n", args[0], args[1])
		return nil
	}
	printVersionList(cmd.OutOrStdout(), versions)
	return nil
}
