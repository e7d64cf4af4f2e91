package commands

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"cowfs/internal/storage"
)

// ANSI color codes
const (
	yellow = "\033[33m"
	cyan   = "\033[36m"
	reset  = "\033[0m"
)

// formatBytes formats bytes in human-readable form
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTime(t time.Time) string {
	return t.Local().Format("Mon Jan 2 15:04:05 2006")
}

func tagNames(tags []storage.Tag) string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

// printIndented prints text with each line prefixed by four spaces
func printIndented(out io.Writer, text string) {
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(out, "    %s\n", line)
	}
}

// printFileList prints one row per file
func printFileList(out io.Writer, files []storage.FileInfo) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tBLOCKS\tVERSIONS\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
			f.ID, f.Name, formatBytes(f.Size), f.BlockCount, f.VersionCount, formatTime(f.ModifiedAt))
	}
	tw.Flush()
}

func printFileInfo(out io.Writer, f *storage.FileInfo) {
	fmt.Fprintf(out, "File:     %s (inode %d)\n", f.Name, f.ID)
	fmt.Fprintf(out, "Size:     %s (%d bytes)\n", formatBytes(f.Size), f.Size)
	fmt.Fprintf(out, "Blocks:   %d\n", f.BlockCount)
	fmt.Fprintf(out, "Versions: %d\n", f.VersionCount)
	fmt.Fprintf(out, "Created:  %s\n", formatTime(f.CreatedAt))
	fmt.Fprintf(out, "Modified: %s\n", formatTime(f.ModifiedAt))
	if f.Policy != "" {
		since := ""
		if f.PolicySince != nil {
			since = fmt.Sprintf(" (since %s)", formatTime(*f.PolicySince))
		}
		fmt.Fprintf(out, "Policy:   %s%s\n", f.Policy, since)
	}
	if len(f.Attrs) > 0 {
		fmt.Fprintln(out, "Attributes:")
		for _, key := range slices.Sorted(maps.Keys(f.Attrs)) {
			fmt.Fprintf(out, "  %s=%s\n", key, f.Attrs[key])
		}
	}
}

// printBlockList prints the block map. Shared blocks show their claim count.
func printBlockList(out io.Writer, blocks []storage.BlockView) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tREFS\tSIZE\tSTORED\tFLAGS\tHASH")
	for _, b := range blocks {
		var flags []string
		if b.IsCow {
			flags = append(flags, "shared")
		}
		if b.IsDeduplicated {
			flags = append(flags, "dedup")
		}
		flagText := strings.Join(flags, ",")
		if flagText == "" {
			flagText = "-"
		}
		hash := b.Hash
		if hash == "" {
			hash = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\t%s\n",
			b.ID, b.State, b.RefCount, b.Size, b.StoredSize, flagText, hash)
	}
	tw.Flush()
}

// printSnapshotList prints a list of snapshots in git-log style
func printSnapshotList(out io.Writer, snapshots []storage.SnapshotInfo) {
	for _, s := range snapshots {
		fmt.Fprintf(out, "%ssnapshot %d %s%s", yellow, s.ID, s.Name, reset)
		if len(s.Tags) > 0 {
			fmt.Fprintf(out, " (%stag: %s%s)", cyan, tagNames(s.Tags), reset)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Date:   %s\n", formatTime(s.CreatedAt))
		fmt.Fprintf(out, "Files:  %d (%s)\n", s.InodeCount, formatBytes(s.TotalSize))

		if s.Description != "" {
			fmt.Fprintln(out)
			printIndented(out, s.Description)
		}
		fmt.Fprintln(out)
	}
}

// printVersionList prints a list of versions in git-log style
func printVersionList(out io.Writer, versions []storage.VersionInfo) {
	for _, v := range versions {
		fmt.Fprintf(out, "%sversion %d%s", yellow, v.ID, reset)
		if len(v.Tags) > 0 {
			fmt.Fprintf(out, " (%stag: %s%s)", cyan, tagNames(v.Tags), reset)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Date:   %s\n", formatTime(v.CreatedAt))
		fmt.Fprintf(out, "Size:   %s in %d block(s)\n", formatBytes(v.Size), v.BlockCount)

		if v.Description != "" {
			fmt.Fprintln(out)
			printIndented(out, v.Description)
		}
		fmt.Fprintln(out)
	}
}

// printStatus prints engine counters, space usage and metrics
func printStatus(out io.Writer, pid int, s *storage.Status) {
	fmt.Fprintf(out, "Daemon:      running (PID %d)\n", pid)
	fmt.Fprintf(out, "Instance:    %s\n", s.InstanceID)
	fmt.Fprintf(out, "Blocks:      %d / %d used (%s each, compression %s)\n",
		s.UsedBlocks, s.TotalBlocks, formatBytes(int64(s.BlockSize)), s.Compression)
	fmt.Fprintf(out, "Files:       %d / %d\n", s.UsedInodes, s.TotalInodes)
	fmt.Fprintf(out, "Snapshots:   %d\n", s.SnapshotCount)
	fmt.Fprintf(out, "Versions:    %d\n", s.VersionCount)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Logical:     %s\n", formatBytes(s.LogicalBytes))
	fmt.Fprintf(out, "Allocated:   %s\n", formatBytes(s.AllocatedBytes))
	fmt.Fprintf(out, "Physical:    %s (stored %s)\n", formatBytes(s.Usage.PhysicalBytes), formatBytes(s.Usage.StoredBytes))
	fmt.Fprintf(out, "Referenced:  %s\n", formatBytes(s.Usage.ReferencedBytes))
	fmt.Fprintf(out, "Dedup ratio: %.2fx (%d shared blocks)\n", s.DedupRatio, s.Usage.DedupBlocks)
	fmt.Fprintln(out)

	m := s.Metrics
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	fmt.Fprintf(tw, "reads\t%d (avg %.3f ms)\n", m.TotalReads, m.AvgReadTime)
	fmt.Fprintf(tw, "writes\t%d (cow %d, row %d, avg %.3f ms)\n", m.TotalWrites, m.CowWrites, m.RowWrites, m.AvgWriteTime)
	fmt.Fprintf(tw, "snapshots\t%d (avg %.3f ms)\n", m.TotalSnapshots, m.AvgSnapshotTime)
	fmt.Fprintf(tw, "rollbacks\t%d (avg %.3f ms)\n", m.TotalRollbacks, m.AvgRollbackTime)
	fmt.Fprintf(tw, "blocks allocated\t%d\n", m.BlocksAllocated)
	fmt.Fprintf(tw, "blocks freed\t%d\n", m.BlocksFreed)
	fmt.Fprintf(tw, "blocks deduplicated\t%d (%s saved)\n", m.BlocksDeduplicated, formatBytes(int64(m.BytesSavedDedup)))
	fmt.Fprintf(tw, "bytes saved by cow\t%s\n", formatBytes(int64(m.BytesSavedCow)))
	fmt.Fprintf(tw, "journal entries\t%d\n", m.JournalEntries)
	tw.Flush()
}

// printIssues prints Verify output, one line per inconsistency
func printIssues(out io.Writer, issues []storage.Inconsistency) {
	for _, is := range issues {
		fmt.Fprintf(out, "  %-12s block %-6d expected %-4d actual %-4d %s\n",
			is.Kind, is.BlockID, is.Expected, is.Actual, is.Detail)
	}
}
