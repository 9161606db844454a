// Package app is the application layer between the CLI and the engines.
// It builds the configuration, logger, prompter and warning sink, and
// exposes one high-level operation per command.
package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/fedetft/directorydiffmerge/internal/config"
	"github.com/fedetft/directorydiffmerge/internal/engine"
	"github.com/fedetft/directorydiffmerge/internal/tree"
)

// App wires the configuration, logger, prompter and warning sink together
// for one CLI invocation. The caller must call Close when done.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	logFile  *os.File
	out      io.Writer
	prompter engine.Prompter
}

// NewApp creates a fully wired App. operation identifies the CLI command
// being run (e.g. "Scrub", "Backup") and tags every log line of the run.
func NewApp(operation string) (*App, error) {
	defaults, err := GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		// The tool must work without `ddm config init` ever being run.
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		cfg = config.NewConfig(defaults.BaseDir)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults.LogDir
	}

	setupColor(cfg.Color)

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger = logger.With("operation", operation)

	return &App{
		cfg:      cfg,
		logger:   logger,
		logFile:  logFile,
		out:      os.Stdout,
		prompter: engine.NewStdioPrompter(),
	}, nil
}

// setupColor applies the configured color mode. In auto mode colors are
// forced off when stdout is not a terminal.
func setupColor(mode string) {
	switch mode {
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			color.NoColor = true
		}
	}
}

// Close releases the resources held by the App.
func (a *App) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}

// warn is the warning sink handed to trees and engines: non-fatal findings
// end up in the log (and on stderr) without stopping the run.
func (a *App) warn(msg string) {
	a.logger.Warn(msg)
}

func (a *App) scanOpt(omitHash bool) tree.ScanOpt {
	if omitHash || a.cfg.Scan.OmitHash {
		return tree.OmitHash
	}
	return tree.ComputeHash
}

func (a *App) parallel(singleThread bool) bool {
	return !singleThread && !a.cfg.Scan.SingleThread
}

// openOutput returns the writer for commands honoring -o FILE: stdout by
// default, otherwise a freshly created file that must not already exist.
func (a *App) openOutput(outFile string) (io.Writer, func() error, error) {
	if outFile == "" {
		return a.out, func() error { return nil }, nil
	}
	if _, err := os.Stat(outFile); err == nil {
		return nil, nil, fmt.Errorf("output file %s already exists", outFile)
	}
	f, err := os.Create(outFile)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// Ls scans a directory and writes its manifest to stdout or to outFile.
func (a *App) Ls(dir string, omitHash bool, outFile string) error {
	w, done, err := a.openOutput(outFile)
	if err != nil {
		return err
	}
	defer done()

	t := tree.New()
	t.SetWarningHandler(a.warn)
	t.SetIgnoreMatcher(tree.NewIgnoreMatcher(a.cfg.Scan.Ignore))
	if err := t.ScanDirectory(dir, a.scanOpt(omitHash)); err != nil {
		return err
	}
	entries, bytes := t.Summary()
	a.logger.Info("scan complete", "path", dir,
		"entries", entries, "size", humanize.Bytes(uint64(bytes)))
	return t.WriteManifest(w)
}

// loadTree builds a tree from a path that may be either a directory (which
// is scanned) or a manifest file (which is parsed).
func (a *App) loadTree(path string, opt tree.ScanOpt) (*tree.Tree, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	t := tree.New()
	t.SetWarningHandler(a.warn)
	if info.IsDir() {
		if err := t.ScanDirectory(path, opt); err != nil {
			return nil, err
		}
		return t, nil
	}
	if err := t.ReadManifestFile(path); err != nil {
		return nil, err
	}
	return t, nil
}

// Diff compares two or three paths, each a directory or a manifest file,
// and writes the disagreement list. Returns 1 when differences were found,
// 0 otherwise.
func (a *App) Diff(paths []string, ignore string, omitHash bool, outFile string) (int, error) {
	opt := tree.FullCompare()
	if ignore != "" {
		var err error
		opt, err = tree.ParseIgnoreOpt(ignore)
		if err != nil {
			return 0, err
		}
	}

	w, done, err := a.openOutput(outFile)
	if err != nil {
		return 0, err
	}
	defer done()

	trees := make([]*tree.Tree, len(paths))
	for i, p := range paths {
		if trees[i], err = a.loadTree(p, a.scanOpt(omitHash)); err != nil {
			return 0, err
		}
	}

	switch len(trees) {
	case 2:
		d := tree.Diff2Trees(trees[0], trees[1], opt)
		if err := d.Print(w); err != nil {
			return 0, err
		}
		if len(d) > 0 {
			return engine.StatusRecovered, nil
		}
		return engine.StatusClean, nil
	case 3:
		d := tree.Diff3Trees(trees[0], trees[1], trees[2], opt)
		if err := d.Print(w); err != nil {
			return 0, err
		}
		if len(d) > 0 {
			return engine.StatusRecovered, nil
		}
		return engine.StatusClean, nil
	default:
		return 0, fmt.Errorf("diff requires two or three paths, got %d", len(trees))
	}
}

// Scrub reconciles the backup directory dst against the two manifests,
// optionally consulting the source directory src ("" to skip).
func (a *App) Scrub(src, dst, meta1, meta2 string, fixup, singleThread bool) (int, error) {
	if src != "" {
		fmt.Fprintf(a.out, "Scrubbing backup directory %s\nby comparing it "+
			"with metadata files:\n- %s\n- %s\nand with source directory %s\n",
			dst, meta1, meta2, src)
	} else {
		fmt.Fprintf(a.out, "Scrubbing backup directory %s\nby comparing it "+
			"with metadata files:\n- %s\n- %s\n", dst, meta1, meta2)
	}

	tm, err := engine.NewTreeManager(src, dst, meta1, meta2,
		tree.ComputeHash, a.parallel(singleThread), a.warn, a.out)
	if err != nil {
		return engine.StatusUnrecoverable, err
	}
	result, err := engine.Scrub(tm, fixup, a.prompter, a.out)
	if err != nil {
		return result, err
	}
	// Manifests are only flushed after a run the engine marked successful.
	if err := tm.Close(); err != nil {
		return engine.StatusUnrecoverable, err
	}
	a.logger.Info("scrub finished", "status", result)
	return result, nil
}

// Backup makes dst equal to src. With manifests the full scrub-first
// algorithm runs; without them it is a plain mirror.
func (a *App) Backup(src, dst, meta1, meta2 string, fixup, omitHash, singleThread bool) (int, error) {
	if meta1 == "" {
		result, err := engine.BackupPlain(src, dst, a.parallel(singleThread),
			a.warn, a.prompter, a.out)
		if err != nil {
			return result, err
		}
		a.logger.Info("backup finished", "status", result)
		return result, nil
	}

	fmt.Fprintf(a.out, "Backing up directory %s\nto directory %s\nand "+
		"metadata files:\n- %s\n- %s\n", src, dst, meta1, meta2)

	tm, err := engine.NewTreeManager(src, dst, meta1, meta2,
		a.scanOpt(omitHash), a.parallel(singleThread), a.warn, a.out)
	if err != nil {
		return engine.StatusUnrecoverable, err
	}
	result, err := engine.Backup(tm, fixup, !a.cfg.Scan.OmitHash && !omitHash, a.prompter, a.out)
	if err != nil {
		return result, err
	}
	if err := tm.Close(); err != nil {
		return engine.StatusUnrecoverable, err
	}
	a.logger.Info("backup finished", "status", result)
	return result, nil
}

// ConfigInit creates a fresh config file with defaults.
func ConfigInit() error {
	defaults, err := GetDefaults()
	if err != nil {
		return fmt.Errorf("failed to get defaults: %w", err)
	}
	cfg := config.NewConfig(defaults.BaseDir)
	if err := config.Init(defaults.ConfigPath, cfg); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
	return nil
}

// ConfigList prints the current configuration.
func ConfigList() error {
	defaults, err := GetDefaults()
	if err != nil {
		return fmt.Errorf("failed to get defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
	fmt.Printf("Log Dir: %s\n", cfg.LogDir)
	fmt.Printf("Color:   %s\n", cfg.Color)
	fmt.Printf("Scan:    single_thread=%v omit_hash=%v ignore=%v\n",
		cfg.Scan.SingleThread, cfg.Scan.OmitHash, cfg.Scan.Ignore)
	return nil
}
