package engine

import (
	"fmt"
	"io"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
	"github.com/fedetft/directorydiffmerge/internal/tree"
)

// fixupResult is the outcome of a single scrub repair.
type fixupResult int

const (
	fixFailed fixupResult = iota
	fixSuccess
	// fixSuccessDiffInvalidated: a directory was added or removed, so the
	// pending diff can no longer be trusted and must be recomputed.
	fixSuccessDiffInvalidated
	// fixSuccessMetadataInvalidated: the manifests were rewritten and must
	// be saved with a backup of the previous version.
	fixSuccessMetadataInvalidated
	fixSuccessDiffMetadataInvalidated
)

// Scrub reconciles the backup directory against the two manifest trees,
// using the source tree (when present) to rescue entries the manifests
// agree on but the backup lost. Returns StatusClean, StatusRecovered or
// StatusUnrecoverable.
func Scrub(tm *TreeManager, fixup bool, p Prompter, out io.Writer) (int, error) {
	fmt.Fprint(out, "Comparing backup directory with metadata... ")
	diff := tree.Diff3Trees(tm.DstTree(), tm.Meta1Tree(), tm.Meta2Tree(), tree.FullCompare())
	fmt.Fprintln(out, "Done.")

	if len(diff) == 0 {
		fmt.Fprintf(out, "%s No differences found.\n", greenb("Scrub complete."))
		return StatusClean, nil
	}
	fmt.Fprintf(out, "%s Processing them one by one.\n"+
		"Note: in the following diff a is the backup directory, b is "+
		"metadata file 1 while c is metadata file 2\n", yellowb("Inconsistencies found."))

	// The updateMeta flags survive diff recomputation: a repair done
	// before the restart still has to be written out at the end.
	var unrecoverable, maybeRecoverable, redo, updateMeta1, updateMeta2 bool
	for {
		if redo {
			redo = false
			fmt.Fprint(out, "\nThe fixup operation modified the backup directory "+
				"content in a way that invalidated the list of inconsistencies. "+
				"Rechecking.\nComparing backup directory with metadata... ")
			diff = tree.Diff3Trees(tm.DstTree(), tm.Meta1Tree(), tm.Meta2Tree(), tree.FullCompare())
			fmt.Fprintln(out, "Done.")
		}
		for _, d := range diff {
			// The comparisons are between optional slots, not bare
			// elements, so missing entries are covered too.
			switch {
			case tree.SlotEqual(d[0], d[1]) && !tree.SlotEqual(d[0], d[2]):
				io.WriteString(out, d.String())
				fmt.Fprintln(out, "Assuming metadata file 2 inconsistent in this case.")
				result, err := fixMetadataEntry(tm.DstTree(), tm.Meta2Tree(), d[0], d[2])
				if err != nil {
					return StatusUnrecoverable, err
				}
				updateMeta2 = true
				if result == fixSuccessDiffMetadataInvalidated {
					redo = true
				}
			case tree.SlotEqual(d[0], d[2]) && !tree.SlotEqual(d[0], d[1]):
				io.WriteString(out, d.String())
				fmt.Fprintln(out, "Assuming metadata file 1 inconsistent in this case.")
				result, err := fixMetadataEntry(tm.DstTree(), tm.Meta1Tree(), d[0], d[1])
				if err != nil {
					return StatusUnrecoverable, err
				}
				updateMeta1 = true
				if result == fixSuccessDiffMetadataInvalidated {
					redo = true
				}
			case tree.SlotEqual(d[1], d[2]) && !tree.SlotEqual(d[0], d[1]):
				io.WriteString(out, d.String())
				fmt.Fprintln(out, "Metadata files are consistent between themselves "+
					"but differ from backup directory content.")
				if fixup {
					fmt.Fprintln(out, "Trying to fix this.")
					var src *tree.Tree
					if tm.HasSourceTree() {
						src = tm.SrcTree()
					}
					result, err := tryToFixBackupEntry(src, tm.DstTree(),
						tm.Meta1Tree(), tm.Meta2Tree(), d, p, out)
					if err != nil {
						return StatusUnrecoverable, err
					}
					switch result {
					case fixSuccess:
					case fixFailed:
						unrecoverable = true
					case fixSuccessDiffInvalidated:
						redo = true
					case fixSuccessMetadataInvalidated:
						updateMeta1, updateMeta2 = true, true
					case fixSuccessDiffMetadataInvalidated:
						updateMeta1, updateMeta2, redo = true, true, true
					}
				} else {
					fmt.Fprintln(out, "Not attempting to fix this because --fixup "+
						"option not given.")
					maybeRecoverable = true
				}
			case !tree.SlotEqual(d[0], d[1]) && !tree.SlotEqual(d[1], d[2]):
				io.WriteString(out, d.String())
				fmt.Fprintln(out, "Metadata files are inconsistent both among "+
					"themselves and with backup directory content. Nothing can be done.")
				unrecoverable = true
			default:
				panic("scrub: diff line with no disagreement")
			}
			fmt.Fprintln(out)
			if redo {
				break
			}
		}
		if !redo {
			break
		}
	}
	fmt.Fprintln(out, "Inconsistencies processed.")

	switch {
	case !unrecoverable && !maybeRecoverable:
		tm.SaveMetadataOnExit()
		if updateMeta1 {
			tm.SaveMeta1PreviousVersion()
		}
		if updateMeta2 {
			tm.SaveMeta2PreviousVersion()
		}
		fmt.Fprintf(out, "%s but it was possible to automatically reconcile "+
			"them.\nBackup directory is now good.\n", yellowb("Inconsistencies found"))
		return StatusRecovered, nil
	case unrecoverable:
		fmt.Fprintf(out, "%s You will need to manually fix the backup directory.\n",
			redb("Unrecoverable inconsistencies found."))
		if maybeRecoverable {
			fmt.Fprintln(out, "Some inconsistencies may be automatically "+
				"recoverable by running again this command with the --fixup option.")
			if !tm.HasSourceTree() {
				fmt.Fprintln(out, "You may want to give me access to the source "+
					"directory as well (-s option)")
			}
		}
		return StatusUnrecoverable, nil
	default:
		fmt.Fprintf(out, "%s However it looks like it is possible to attempt "+
			"recovering all inconsistencies automatically by running this "+
			"command again and adding the --fixup option.\n",
			redb("Unrecovered inconsistencies found."))
		if !tm.HasSourceTree() {
			fmt.Fprintln(out, "You may want to give me access to the source "+
				"directory as well (-s option)")
		}
		return StatusUnrecoverable, nil
	}
}

// fixMetadataEntry repairs one manifest tree entry from the tree the other
// two witnesses agree on. It works on in-memory trees only, so removing
// and re-copying a whole subtree is cheap enough not to bother diffing
// field by field.
func fixMetadataEntry(good, bad *tree.Tree, goodEntry, badEntry *tree.Element) (fixupResult, error) {
	if badEntry != nil {
		if err := bad.RemoveFromTree(badEntry.Path); err != nil {
			return fixFailed, err
		}
	}
	if goodEntry != nil {
		if err := bad.CopyFromTree(good, goodEntry.Path, tree.ParentPath(goodEntry.Path)); err != nil {
			return fixFailed, err
		}
	}
	if (goodEntry != nil && goodEntry.IsDirectory()) ||
		(badEntry != nil && badEntry.IsDirectory()) {
		return fixSuccessDiffMetadataInvalidated, nil
	}
	return fixSuccessMetadataInvalidated, nil
}

// tryToFixBackupEntry handles the hard scrub case: the manifests agree
// with each other but contradict the backup directory. It sees a single
// diff line, where d[1] == d[2] is guaranteed by the caller. src may be
// nil when the operator did not provide the source directory.
func tryToFixBackupEntry(src *tree.Tree, dst, meta1, meta2 *tree.Tree,
	d tree.DiffLine3, p Prompter, out io.Writer) (fixupResult, error) {

	switch {
	case d[0] == nil:
		return fixMissingBackupEntry(src, dst, meta1, meta2, d, p, out)
	case d[1] == nil:
		return fixExtraBackupEntry(dst, d, p, out)
	default:
		return fixDifferingBackupEntry(src, dst, meta1, meta2, d, p, out)
	}
}

// fixMissingBackupEntry: the entry is missing in the backup but both
// manifests agree it should be there.
func fixMissingBackupEntry(src *tree.Tree, dst, meta1, meta2 *tree.Tree,
	d tree.DiffLine3, p Prompter, out io.Writer) (fixupResult, error) {

	relPath := d[1].Path
	typ := d[1].TypeString()
	fmt.Fprintf(out, "The %s %s is missing in the backup directory but the "+
		"metadata files agree it should be there.\n", typ, relPath)

	// Symlinks are special: the manifest carries the link target, which is
	// all that is needed to recreate them.
	if d[1].Type == extfs.TypeSymlink {
		fmt.Fprintln(out, "Creating the missing symbolic link.")
		if err := dst.AddSymlinkToTreeAndFilesystem(*d[1]); err != nil {
			return fixFailed, err
		}
		return fixSuccess, nil
	}

	if src == nil {
		fmt.Fprintf(out, "If you re-run the scrub giving me also the source "+
			"directory (-s option) I may be able to help by looking for the "+
			"%s there, but until then, there's nothing I can do.\n", typ)
		return fixFailed, nil
	}

	fmt.Fprintf(out, "Trying to see if I can find the missing %s in the "+
		"source directory.\n", typ)
	item, ok := src.Search(relPath)
	if !ok {
		printSourceMissing(out, typ)
		return fixFailed, nil
	}
	if item.Equal(d[1]) {
		fmt.Fprintf(out, "The %s was found in the source directory and matches "+
			"with the backup metadata.\nCopying it back into the backup directory.\n", typ)
		if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
			return fixFailed, err
		}
		if d[1].IsDirectory() {
			return fixSuccessDiffInvalidated, nil
		}
		return fixSuccess, nil
	}

	fmt.Fprintf(out, "An entry was found in the source directory however, its "+
		"properties\n%s\ndo not match the missing %s.\n", item.String(), typ)
	opt := tree.FullCompare()
	opt.Perm, opt.Owner, opt.Mtime = false, false, false
	if tree.CompareElements(&item, d[1], opt) {
		fmt.Fprintln(out, "However, the content is the same, updating backup.")
		if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
			return fixFailed, err
		}
		if err := alignMetadataToElement(meta1, meta2, &item, d[1]); err != nil {
			return fixFailed, err
		}
		if d[1].IsDirectory() {
			return fixSuccessDiffMetadataInvalidated, nil
		}
		return fixSuccessMetadataInvalidated, nil
	}

	fmt.Fprintln(out, "And the difference includes the entry content. However, "+
		"as the entry in the backup is gone, and the source directory has "+
		"changed, the best I can do is copy the new entry to the backup.")
	if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
		return fixFailed, err
	}
	if err := replaceInMetadata(meta1, meta2, src, relPath); err != nil {
		return fixFailed, err
	}
	if item.IsDirectory() || d[1].IsDirectory() {
		return fixSuccessDiffMetadataInvalidated, nil
	}
	return fixSuccessMetadataInvalidated, nil
}

// fixExtraBackupEntry: the entry exists in the backup but both manifests
// agree it should not.
func fixExtraBackupEntry(dst *tree.Tree, d tree.DiffLine3, p Prompter, out io.Writer) (fixupResult, error) {
	relPath := d[0].Path
	typ := d[0].TypeString()
	fmt.Fprintf(out, "The %s %s is present in the backup directory but the "+
		"metadata files agree it should not be there.\n", typ, relPath)
	if !p.AskYesNo("Do you want to DELETE it?") {
		return fixFailed, nil
	}
	fmt.Fprintf(out, "Removing the %s.\n", typ)
	count, err := dst.RemoveFromTreeAndFilesystem(relPath)
	if err != nil {
		return fixFailed, err
	}
	fmt.Fprintf(out, "Removed %d files or directories.\n", count)
	if d[0].IsDirectory() {
		return fixSuccessDiffInvalidated, nil
	}
	return fixSuccess, nil
}

// fixDifferingBackupEntry: the entry exists everywhere but the backup
// disagrees with the unanimous manifests.
func fixDifferingBackupEntry(src *tree.Tree, dst, meta1, meta2 *tree.Tree,
	d tree.DiffLine3, p Prompter, out io.Writer) (fixupResult, error) {

	relPath := d[1].Path
	typ := d[1].TypeString()
	fmt.Fprintf(out, "The metadata files agree on the properties of the %s %s "+
		"but the entry in the backup directory differs.\n", typ, relPath)

	contentOpt := tree.FullCompare()
	contentOpt.Perm, contentOpt.Owner, contentOpt.Mtime = false, false, false
	if tree.CompareElements(d[0], d[1], contentOpt) {
		// Content is intact: the manifest metadata is authoritative.
		fmt.Fprintln(out, "However, the content is the same, updating backup directory.")
		if err := alignBackupMetadata(dst, d[0], d[1]); err != nil {
			return fixFailed, err
		}
		return fixSuccess, nil
	}

	fmt.Fprintln(out, "And the difference includes the entry content.")
	if d[1].Type != d[0].Type {
		fmt.Fprintf(out, "%s\n", yellowb("Also, the types differ!"))
	}

	// Content differs but the metadata (mtime included) matches: silent
	// corruption rather than an out-of-band write.
	bitrot := false
	metaOpt := tree.FullCompare()
	metaOpt.Size, metaOpt.Hash, metaOpt.Symlink = false, false, false
	if tree.CompareElements(d[0], d[1], metaOpt) {
		bitrot = true
		fmt.Fprintf(out, "%s The content of a file changed but the modified "+
			"time did not. I suggest running a SMART check as your backup disk "+
			"may be unreliable.\n", redb("Bit rot in the backup directory detected."))
	}

	if d[1].Type == extfs.TypeSymlink && d[0].Type == extfs.TypeSymlink {
		if !bitrot {
			if !p.AskYesNo("Do you want to UPDATE the symbolic link?") {
				return fixFailed, nil
			}
		}
		fmt.Fprintln(out, "First removing the old symbolic link.")
		count, err := dst.RemoveFromTreeAndFilesystem(relPath)
		if err != nil {
			return fixFailed, err
		}
		fmt.Fprintf(out, "Removed %d entry. Creating updated symbolic link.\n", count)
		if err := dst.AddSymlinkToTreeAndFilesystem(*d[1]); err != nil {
			return fixFailed, err
		}
		return fixSuccess, nil
	}

	if src == nil {
		fmt.Fprintf(out, "If you re-run the scrub giving me also the source "+
			"directory (-s option) I may be able to help by looking for the "+
			"%s there, but until then, there's nothing I can do.\n", typ)
		return fixFailed, nil
	}

	fmt.Fprintf(out, "Trying to see if I can find the missing %s in the "+
		"source directory.\n", typ)
	item, ok := src.Search(relPath)
	if !ok {
		printSourceMissing(out, typ)
		return fixFailed, nil
	}

	if item.Equal(d[1]) {
		// The source still matches the manifests: the backup entry is the
		// odd one out, replace it.
		fmt.Fprintf(out, "The %s was found in the source directory and matches "+
			"with the backup metadata.\n", typ)
		if !bitrot {
			q := fmt.Sprintf("Do you want to DELETE the %s in the backup "+
				"directory and REPLACE it with the %s in the source directory?",
				d[0].TypeString(), typ)
			if !p.AskYesNo(q) {
				return fixFailed, nil
			}
		}
		count, err := dst.RemoveFromTreeAndFilesystem(relPath)
		if err != nil {
			return fixFailed, err
		}
		fmt.Fprintf(out, "Removed %d files or directories.\nReplacing the "+
			"content of the backup directory with the one of the source directory.\n", count)
		if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
			return fixFailed, err
		}
		if d[1].IsDirectory() || d[0].IsDirectory() {
			return fixSuccessDiffInvalidated, nil
		}
		return fixSuccess, nil
	}

	fmt.Fprintf(out, "An entry was found in the source directory however, its "+
		"properties\n%s\ndo not match the missing %s.\n", item.String(), typ)
	if item.Equal(d[0]) {
		// Source and backup evolved together without a manifest update.
		fmt.Fprintln(out, "But the source directory matches with the backup "+
			"directory.\nDid you do a backup without updating the backup "+
			"metadata? Assuming the metadata is not up to date.")
		if err := replaceInMetadata(meta1, meta2, src, relPath); err != nil {
			return fixFailed, err
		}
		fmt.Fprintln(out, "Metadata updated to reflect the source and backup.")
		if bitrot {
			printBitrotCaveat(out)
		}
		if item.IsDirectory() || d[1].IsDirectory() {
			return fixSuccessDiffMetadataInvalidated, nil
		}
		return fixSuccessMetadataInvalidated, nil
	}
	if item.Type != d[1].Type {
		fmt.Fprintf(out, "%s\n", yellowb("Also, the types differ!"))
	}

	if tree.CompareElements(&item, d[0], contentOpt) {
		// Source content equals the backup content: only metadata moved,
		// and the source is the freshest witness for it.
		fmt.Fprintln(out, "However, the content is the same, updating backup.")
		if err := alignBackupMetadata(dst, d[1], &item); err != nil {
			return fixFailed, err
		}
		fmt.Fprintln(out, "Updating metadata files too.")
		if err := replaceInMetadata(meta1, meta2, src, relPath); err != nil {
			return fixFailed, err
		}
		if bitrot {
			printBitrotCaveat(out)
		}
		if d[1].IsDirectory() || d[0].IsDirectory() {
			return fixSuccessDiffMetadataInvalidated, nil
		}
		return fixSuccessMetadataInvalidated, nil
	}

	fmt.Fprintln(out, "And the difference includes the entry content.")
	q := fmt.Sprintf("Do you want to DELETE the %s in the backup directory "+
		"and REPLACE it with the %s in the source directory?",
		d[0].TypeString(), item.TypeString())
	if !p.AskYesNo(q) {
		return fixFailed, nil
	}
	count, err := dst.RemoveFromTreeAndFilesystem(relPath)
	if err != nil {
		return fixFailed, err
	}
	fmt.Fprintf(out, "Removed %d files or directories.\nReplacing the content "+
		"of the backup directory with the one of the source directory.\n", count)
	if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
		return fixFailed, err
	}
	if err := replaceInMetadata(meta1, meta2, src, relPath); err != nil {
		return fixFailed, err
	}
	if d[1].IsDirectory() || item.IsDirectory() || d[0].IsDirectory() {
		return fixSuccessDiffMetadataInvalidated, nil
	}
	return fixSuccessMetadataInvalidated, nil
}

func printSourceMissing(out io.Writer, typ string) {
	fmt.Fprintf(out, "The %s was not found. There's nothing I can do, but I "+
		"recommend to double check the source directory path. If it's wrong, "+
		"please re-run the command with the correct path. If it's correct, "+
		"please check the source directory manually, if the %s really isn't "+
		"there maybe it was deleted manually both there and in the backup "+
		"directory. If this is the only error you could delete and recreate "+
		"the metadata files.\n", typ, typ)
}

func printBitrotCaveat(out io.Writer) {
	fmt.Fprintf(out, "%s Either you restored a backup and that explains why "+
		"the source and backup directory are the same and in this case you "+
		"overwrote the good file, or something strange happened to the mtime.\n",
		yellowb("About the bit rot."))
}

// alignMetadataToElement rewrites the per-field metadata of both manifest
// trees from want wherever it differs from have. Paths stay untouched.
func alignMetadataToElement(meta1, meta2 *tree.Tree, want, have *tree.Element) error {
	relPath := want.Path
	if want.Perm != have.Perm {
		if err := meta1.ModifyPermissions(relPath, want.Perm); err != nil {
			return err
		}
		if err := meta2.ModifyPermissions(relPath, want.Perm); err != nil {
			return err
		}
	}
	if want.User != have.User || want.Group != have.Group {
		if err := meta1.ModifyOwner(relPath, want.User, want.Group); err != nil {
			return err
		}
		if err := meta2.ModifyOwner(relPath, want.User, want.Group); err != nil {
			return err
		}
	}
	if want.Mtime != have.Mtime {
		if err := meta1.ModifyMtime(relPath, want.Mtime); err != nil {
			return err
		}
		if err := meta2.ModifyMtime(relPath, want.Mtime); err != nil {
			return err
		}
	}
	return nil
}

// alignBackupMetadata applies want's differing perm/owner/mtime to the
// backup entry, on disk as well.
func alignBackupMetadata(dst *tree.Tree, have, want *tree.Element) error {
	relPath := want.Path
	if have.Perm != want.Perm {
		if err := dst.ModifyPermissionsInTreeAndFilesystem(relPath, want.Perm); err != nil {
			return err
		}
	}
	if have.User != want.User || have.Group != want.Group {
		if err := dst.ModifyOwnerInTreeAndFilesystem(relPath, want.User, want.Group); err != nil {
			return err
		}
	}
	if have.Mtime != want.Mtime {
		if err := dst.ModifyMtimeInTreeAndFilesystem(relPath, want.Mtime); err != nil {
			return err
		}
	}
	return nil
}

// replaceInMetadata replaces the entry at relPath in both manifest trees
// with the subtree the source tree holds.
func replaceInMetadata(meta1, meta2, src *tree.Tree, relPath string) error {
	for _, m := range []*tree.Tree{meta1, meta2} {
		if err := m.RemoveFromTree(relPath); err != nil {
			return err
		}
		if err := m.CopyFromTree(src, relPath, tree.ParentPath(relPath)); err != nil {
			return err
		}
	}
	return nil
}
