package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cowfs/internal/storage"
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Create, write, read and delete files",
	Long: `Manage files in the pool.

A write replaces the whole file. The content is cut into block-size chunks;
chunks whose content is already stored reuse the existing block.

Examples:
  # Create a file and write to it
  cowfs file create notes
  cowfs file write notes "hello world"

  # Write from a local file or from stdin
  cowfs file write notes -f ./notes.txt
  echo hello | cowfs file write notes -

  # Read it back
  cowfs file read notes`,
}

var fileCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileCreate,
}

var fileWriteCmd = &cobra.Command{
	Use:   "write NAME (DATA | -f PATH | -)",
	Short: "Replace a file's content",
	Long: `Replaces a file's content with DATA, the contents of PATH, or stdin when
DATA is "-".

--strategy picks the write path recorded in the metrics: cow (default) or row.
Both take a fresh block for every chunk and release the old one.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runFileWrite,
}

var fileReadCmd = &cobra.Command{
	Use:   "read NAME",
	Short: "Print a file's content",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileRead,
}

var fileStatCmd = &cobra.Command{
	Use:   "stat NAME",
	Short: "Show a file's size, blocks and versions",
	Args:  cobra.ExactArgs(1),
	RunE:  runFileStat,
}

var fileListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List files",
	Args:    cobra.NoArgs,
	RunE:    runFileList,
}

var fileRemoveCmd = &cobra.Command{
	Use:     "rm NAME",
	Aliases: []string{"delete"},
	Short:   "Delete a file",
	Long: `Deletes a file. Blocks still held by a snapshot stay in the pool until
the snapshot is deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runFileRemove,
}

var filePolicyCmd = &cobra.Command{
	Use:   "policy NAME POLICY",
	Short: "Set a file's write policy",
	Long: `Sets the policy that guards a file's content:

  none         no restriction
  read-only    refuses writes, version rollback and delete
  append-only  accepts a write only if it starts with the current content
  worm         write once: accepts writes while the file is empty, and
               cannot be lifted

Any policy other than none also blocks delete. Snapshot rollback restores
the policy each file had when the snapshot was taken.`,
	Args: cobra.ExactArgs(2),
	RunE: runFilePolicy,
}

var fileAttrCmd = &cobra.Command{
	Use:   "attr",
	Short: "Set and get extended attributes",
	Long: fmt.Sprintf(`Extended attributes are key/value strings stored with a file. A file holds
at most %d; keys are 1-%d bytes and values at most %d bytes.`,
		storage.MaxAttrs, storage.MaxAttrKeyLen, storage.MaxAttrValueLen),
}

var fileAttrSetCmd = &cobra.Command{
	Use:   "set NAME KEY VALUE",
	Short: "Set an extended attribute",
	Args:  cobra.ExactArgs(3),
	RunE:  runFileAttrSet,
}

var fileAttrGetCmd = &cobra.Command{
	Use:   "get NAME KEY",
	Short: "Print an extended attribute",
	Args:  cobra.ExactArgs(2),
	RunE:  runFileAttrGet,
}

var writeFromFile string
var writeStrategy string

func init() {
	fileWriteCmd.Flags().StringVarP(&writeFromFile, "file", "f", "", "Read content from a local file")
	fileWriteCmd.Flags().StringVar(&writeStrategy, "strategy", "cow", "Write strategy: cow, row")
	fileCmd.AddCommand(fileCreateCmd)
	fileCmd.AddCommand(fileWriteCmd)
	fileCmd.AddCommand(fileReadCmd)
	fileCmd.AddCommand(fileStatCmd)
	fileCmd.AddCommand(fileListCmd)
	fileCmd.AddCommand(fileRemoveCmd)
	fileCmd.AddCommand(filePolicyCmd)
	fileAttrCmd.AddCommand(fileAttrSetCmd)
	fileAttrCmd.AddCommand(fileAttrGetCmd)
	fileCmd.AddCommand(fileAttrCmd)
	rootCmd.AddCommand(fileCmd)
}

func runFileCreate(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.CreateFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s (inode %d)\n", info.Name, info.ID)
	return nil
}

// readWriteInput resolves the content for `file write` from the DATA
// argument, "-" for stdin, or the --file flag.
func readWriteInput(args []string, fromFile string, stdin io.Reader) ([]byte, error) {
	switch {
	case fromFile != "" && len(args) > 1:
		return nil, fmt.Errorf("give either DATA or --file, not both")
	case fromFile != "":
		return os.ReadFile(fromFile)
	case len(args) < 2:
		return nil, fmt.Errorf("missing DATA: pass it as an argument, '-' for stdin, or --file PATH")
	case args[1] == "-":
		return io.ReadAll(stdin)
	default:
		return []byte(args[1]), nil
	}
}

func runFileWrite(cmd *cobra.Command, args []string) error {
	data, err := readWriteInput(args, writeFromFile, cmd.InOrStdin())
	if err != nil {
		return err
	}

	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.WriteFile(args[0], data, writeStrategy)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s to %s (%d block(s))\n", formatBytes(info.Size), info.Name, info.BlockCount)
	return nil
}

func runFileRead(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	data, err := client.ReadFile(args[0])
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runFileStat(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.StatFile(args[0])
	if err != nil {
		return err
	}
	printFileInfo(cmd.OutOrStdout(), info)
	return nil
}

func runFileList(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	files, err := client.ListFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No files")
		return nil
	}
	printFileList(cmd.OutOrStdout(), files)
	return nil
}

func runFileRemove(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeleteFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
	return nil
}

func runFilePolicy(cmd *cobra.Command, args []string) error {
	if _, err := storage.ParsePolicy(args[1]); err != nil {
		return err
	}

	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	info, err := client.SetPolicy(args[0], args[1])
	if err != nil {
		return err
	}
	policy := info.Policy
	if policy == "" {
		policy = "none"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Policy of %s set to %s\n", info.Name, policy)
	return nil
}

func runFileAttrSet(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.SetAttr(args[0], args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s on %s\n", args[1], args[0])
	return nil
}

func runFileAttrGet(cmd *cobra.Command, args []string) error {
	client, err := requireDaemon(contextOrBackground(cmd))
	if err != nil {
		return err
	}
	defer client.Close()

	value, err := client.GetAttr(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}
