package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/fedetft/directorydiffmerge/internal/tree"
)

// Engine status codes, surfaced as process exit codes by the CLI.
const (
	StatusClean         = 0 // no action was needed
	StatusRecovered     = 1 // recoverable inconsistencies found (and fixed)
	StatusUnrecoverable = 2 // unrecoverable inconsistencies or bit rot
)

// TreeManager owns the up-to-four trees a scrub or backup needs and is the
// only component that reads or writes the manifest files. On Close, after
// a successful run, it writes the updated manifests back, keeping the
// previous versions as .bak siblings where requested.
type TreeManager struct {
	srcTree   *tree.Tree
	dstTree   *tree.Tree
	meta1Tree *tree.Tree
	meta2Tree *tree.Tree

	meta1Path, meta2Path string

	hasSource    bool
	meta2Present bool

	save        bool
	meta1Backup bool
	meta2Backup bool

	out io.Writer
}

// NewTreeManager loads both manifest files and scans the backup directory
// and, when src is non-empty, the source directory. With parallel set the
// two scans run as a concurrent pair.
func NewTreeManager(src, dst, meta1, meta2 string, opt tree.ScanOpt,
	parallel bool, warn func(string), out io.Writer) (*TreeManager, error) {

	tm := &TreeManager{
		srcTree:      tree.New(),
		dstTree:      tree.New(),
		meta1Tree:    tree.New(),
		meta2Tree:    tree.New(),
		meta1Path:    meta1,
		meta2Path:    meta2,
		hasSource:    src != "",
		meta2Present: true,
		out:          out,
	}
	if warn != nil {
		tm.srcTree.SetWarningHandler(warn)
		tm.dstTree.SetWarningHandler(warn)
		tm.meta1Tree.SetWarningHandler(warn)
		tm.meta2Tree.SetWarningHandler(warn)
	}

	if err := tm.loadMetadataFiles(); err != nil {
		return nil, err
	}

	if tm.hasSource {
		fmt.Fprint(out, "Scanning source and backup directory... ")
		if err := scanSourceAndTarget(tm.srcTree, tm.dstTree, src, dst, opt, parallel); err != nil {
			return nil, err
		}
		fmt.Fprintln(out, "Done.")
		entries, bytes := tm.srcTree.Summary()
		fmt.Fprintf(out, "Source: %d entries, %s.\n", entries, humanize.Bytes(uint64(bytes)))
	} else {
		fmt.Fprint(out, "Scanning backup directory... ")
		if err := tm.dstTree.ScanDirectory(dst, opt); err != nil {
			return nil, err
		}
		fmt.Fprintln(out, "Done.")
	}
	entries, bytes := tm.dstTree.Summary()
	fmt.Fprintf(out, "Backup: %d entries, %s.\n", entries, humanize.Bytes(uint64(bytes)))
	return tm, nil
}

func (tm *TreeManager) loadMetadataFiles() error {
	fmt.Fprint(tm.out, "Loading metadata files... ")
	err := tm.meta1Tree.ReadManifestFile(tm.meta1Path)
	if err == nil {
		err = tm.meta2Tree.ReadManifestFile(tm.meta2Path)
	}
	if err != nil {
		fmt.Fprintf(tm.out, "%v\n"+
			"It looks like at least one of the metadata files is corrupted "+
			"to the point that it cannot be read. The cause may be an "+
			"unclean unmount of the filesystem (did you run an fsck?), you "+
			"tried to edit a metadata file with a text editor or bit rot "+
			"occurred in a metadata file.\n"+
			"%s You will need to manually fix the backup directory, "+
			"possibly by recreating metadata files and replacing the "+
			"corrupted one(s).\n"+
			"The 'ddm diff' command may help to troubleshoot bad metadata.\n",
			err, redb("Unrecoverable inconsistencies found."))
		return fmt.Errorf("loading metadata files: %w", err)
	}
	fmt.Fprintln(tm.out, "Done.")
	return nil
}

// scanSourceAndTarget scans the two directories, concurrently when
// parallel is set. Each scan builds its own tree with no shared state;
// on a double failure the messages are concatenated.
func scanSourceAndTarget(srcTree, dstTree *tree.Tree, src, dst string,
	opt tree.ScanOpt, parallel bool) error {

	if !parallel {
		if err := srcTree.ScanDirectory(src, opt); err != nil {
			return err
		}
		return dstTree.ScanDirectory(dst, opt)
	}

	var srcErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		srcErr = srcTree.ScanDirectory(src, opt)
	}()
	dstErr := dstTree.ScanDirectory(dst, opt)
	<-done

	switch {
	case dstErr != nil && srcErr != nil:
		return fmt.Errorf("%v %v", dstErr, srcErr)
	case dstErr != nil:
		return dstErr
	case srcErr != nil:
		return srcErr
	}
	return nil
}

// HasSourceTree reports whether the manager was built with a source
// directory.
func (tm *TreeManager) HasSourceTree() bool { return tm.hasSource }

// SrcTree returns the source tree. Only valid when HasSourceTree is true.
func (tm *TreeManager) SrcTree() *tree.Tree { return tm.srcTree }

// DstTree returns the backup directory tree.
func (tm *TreeManager) DstTree() *tree.Tree { return tm.dstTree }

// Meta1Tree returns the first manifest tree.
func (tm *TreeManager) Meta1Tree() *tree.Tree { return tm.meta1Tree }

// Meta2Tree returns the second manifest tree. Invalid after
// DiscardMeta2Tree.
func (tm *TreeManager) Meta2Tree() *tree.Tree { return tm.meta2Tree }

// DiscardMeta2Tree releases the second manifest tree after a scrub agreed
// both copies. When saving, the first tree is then written to both paths.
func (tm *TreeManager) DiscardMeta2Tree() {
	tm.meta2Tree.Clear()
	tm.meta2Present = false
}

// SaveMetadataOnExit latches the flag that makes Close write the manifest
// files.
func (tm *TreeManager) SaveMetadataOnExit() { tm.save = true }

// SaveMeta1PreviousVersion keeps the current first manifest as a .bak
// sibling when Close writes.
func (tm *TreeManager) SaveMeta1PreviousVersion() { tm.meta1Backup = true }

// SaveMeta2PreviousVersion keeps the current second manifest as a .bak
// sibling when Close writes.
func (tm *TreeManager) SaveMeta2PreviousVersion() { tm.meta2Backup = true }

// Close writes the manifests if the run marked success: meta1 first, then
// meta2, each optionally renaming the previous file to .bak first. If the
// second tree was discarded the first tree is written to both paths.
func (tm *TreeManager) Close() error {
	if !tm.save {
		return nil
	}
	fmt.Fprintln(tm.out, "Updating metadata file 1")
	if tm.meta1Backup {
		if err := os.Rename(tm.meta1Path, tm.meta1Path+".bak"); err != nil {
			return fmt.Errorf("keeping previous manifest: %w", err)
		}
	}
	if err := writeManifest(tm.meta1Tree, tm.meta1Path); err != nil {
		return err
	}
	fmt.Fprintln(tm.out, "Updating metadata file 2")
	if tm.meta2Backup {
		if err := os.Rename(tm.meta2Path, tm.meta2Path+".bak"); err != nil {
			return fmt.Errorf("keeping previous manifest: %w", err)
		}
	}
	second := tm.meta2Tree
	if !tm.meta2Present {
		second = tm.meta1Tree // intentionally: both files get the surviving tree
	}
	return writeManifest(second, tm.meta2Path)
}

// writeManifest writes through a uniquely named temporary sibling and
// renames it into place, so a crash mid-write cannot destroy the current
// manifest.
func writeManifest(t *tree.Tree, path string) error {
	tmp := path + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if err := t.WriteManifest(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}
