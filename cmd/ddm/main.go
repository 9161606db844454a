// ddm maintains a backup directory as a byte-faithful mirror of a source
// directory, together with two redundant metadata manifests that allow
// two-out-of-three reconciliation and bit rot detection.
//
// Exit codes: 0 no action or no diff, 1 recoverable (or diff found),
// 2 unrecoverable or bit rot detected, 10 I/O or argument error,
// 100 usage error.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fedetft/directorydiffmerge/internal/app"
)

// codedError carries the process exit code through cobra's error path.
// A nil inner error means a status-only exit (the engines already printed
// their verdict).
type codedError struct {
	code int
	err  error
}

func (e codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

// statusExit converts an engine status to the command result: nil for 0,
// a bare codedError otherwise.
func statusExit(status int) error {
	if status == 0 {
		return nil
	}
	return codedError{code: status}
}

// run wraps a command body so its errors carry exit code 10, leaving
// cobra's own errors (bad flags, wrong arg counts) to exit 100.
func run(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			var ce codedError
			if errors.As(err, &ce) {
				return err
			}
			return codedError{code: 10, err: err}
		}
		return nil
	}
}

func main() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		var ce codedError
		if errors.As(err, &ce) {
			if ce.err != nil {
				fmt.Fprintln(os.Stderr, "Error:", ce.err)
			}
			os.Exit(ce.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(100)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ddm",
	Short: "Directory backup and integrity verification tool",
	Long: "ddm maintains a backup directory as a mirror of a source directory,\n" +
		"plus two redundant metadata files enabling scrub reconciliation and\n" +
		"bit rot detection.",
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory in the metadata file format",
	Args:  cobra.MaximumNArgs(1),
	RunE: run(func(cmd *cobra.Command, args []string) error {
		omitHash, _ := cmd.Flags().GetBool("nohash")
		outFile, _ := cmd.Flags().GetString("out")

		a, err := app.NewApp("Ls")
		if err != nil {
			return err
		}
		defer a.Close()

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return a.Ls(dir, omitHash, outFile)
	}),
}

var diffCmd = &cobra.Command{
	Use:   "diff PATH PATH [PATH]",
	Short: "Diff directories or metadata files",
	Long: "Compare two or three paths, each either a directory (which is\n" +
		"scanned) or a metadata file (which is parsed).",
	Args: cobra.RangeArgs(2, 3),
	RunE: run(func(cmd *cobra.Command, args []string) error {
		omitHash, _ := cmd.Flags().GetBool("nohash")
		outFile, _ := cmd.Flags().GetString("out")
		ignore, _ := cmd.Flags().GetString("ignore")

		a, err := app.NewApp("Diff")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Diff(args, ignore, omitHash, outFile)
		if err != nil {
			return err
		}
		return statusExit(status)
	}),
}

var scrubCmd = &cobra.Command{
	Use:   "scrub [-s SRC] -t DST META META",
	Short: "Verify the backup directory against its metadata files",
	Long: "Compare the backup directory with the two metadata files and\n" +
		"reconcile disagreements by majority. With -s, entries missing from\n" +
		"the backup can be rescued from the source directory. Pass the\n" +
		"backup directory either with -t or as the first of three\n" +
		"positional arguments.",
	Args: cobra.RangeArgs(2, 3),
	RunE: run(func(cmd *cobra.Command, args []string) error {
		src, _ := cmd.Flags().GetString("source")
		dst, _ := cmd.Flags().GetString("target")
		fixup, _ := cmd.Flags().GetBool("fixup")
		singleThread, _ := cmd.Flags().GetBool("singlethread")

		var meta1, meta2 string
		switch len(args) {
		case 3:
			if dst != "" {
				return fmt.Errorf("backup directory given both with -t and as positional argument")
			}
			dst, meta1, meta2 = args[0], args[1], args[2]
		case 2:
			if dst == "" {
				return fmt.Errorf("backup directory missing: pass it with -t")
			}
			meta1, meta2 = args[0], args[1]
		}

		a, err := app.NewApp("Scrub")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Scrub(src, dst, meta1, meta2, fixup, singleThread)
		if err != nil {
			return err
		}
		return statusExit(status)
	}),
}

var backupCmd = &cobra.Command{
	Use:   "backup -s SRC -t DST [META META]",
	Short: "Back up the source directory",
	Long: "Make the backup directory equal to the source directory. With\n" +
		"metadata files given, the backup directory is scrubbed first and\n" +
		"the metadata is kept in sync; without them this is a plain mirror.",
	Args: cobra.RangeArgs(0, 2),
	RunE: run(func(cmd *cobra.Command, args []string) error {
		src, _ := cmd.Flags().GetString("source")
		dst, _ := cmd.Flags().GetString("target")
		fixup, _ := cmd.Flags().GetBool("fixup")
		omitHash, _ := cmd.Flags().GetBool("nohash")
		singleThread, _ := cmd.Flags().GetBool("singlethread")

		if src == "" || dst == "" {
			return fmt.Errorf("backup requires both -s SRC and -t DST")
		}
		if len(args) == 1 {
			return fmt.Errorf("backup requires either no metadata files or both")
		}
		var meta1, meta2 string
		if len(args) == 2 {
			meta1, meta2 = args[0], args[1]
		}

		a, err := app.NewApp("Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Backup(src, dst, meta1, meta2, fixup, omitHash, singleThread)
		if err != nil {
			return err
		}
		return statusExit(status)
	}),
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: run(func(cmd *cobra.Command, args []string) error {
		return app.ConfigInit()
	}),
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: run(func(cmd *cobra.Command, args []string) error {
		return app.ConfigList()
	}),
}

func init() {
	lsCmd.Flags().BoolP("nohash", "n", false, "Do not compute file hashes")
	lsCmd.Flags().StringP("out", "o", "", "Save output to file instead of stdout")

	diffCmd.Flags().BoolP("nohash", "n", false, "Do not compute file hashes")
	diffCmd.Flags().StringP("out", "o", "", "Save output to file instead of stdout")
	diffCmd.Flags().StringP("ignore", "i", "",
		"Comma-separated checks to ignore: perm,owner,mtime,size,hash,symlink,all")

	scrubCmd.Flags().StringP("source", "s", "", "Source directory, used to rescue lost entries")
	scrubCmd.Flags().StringP("target", "t", "", "Backup directory to scrub")
	scrubCmd.Flags().Bool("fixup", false, "Attempt to fix inconsistencies in the backup directory")
	scrubCmd.Flags().Bool("singlethread", false, "Do not scan directories in parallel")

	backupCmd.Flags().StringP("source", "s", "", "Source directory to back up")
	backupCmd.Flags().StringP("target", "t", "", "Backup directory")
	backupCmd.Flags().Bool("fixup", false, "Attempt to fix inconsistencies during the scrub")
	backupCmd.Flags().BoolP("nohash", "n", false, "Do not compute file hashes while scanning")
	backupCmd.Flags().Bool("singlethread", false, "Do not scan directories in parallel")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(scrubCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(configCmd)
}
