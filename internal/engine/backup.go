package engine

import (
	"fmt"
	"io"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
	"github.com/fedetft/directorydiffmerge/internal/tree"
)

// Backup makes the backup directory equal to the source directory while
// keeping the manifest in sync. It scrubs first and refuses to back up to
// an inconsistent directory. Returns StatusUnrecoverable when bit rot was
// detected in the source, StatusRecovered when the operator declined to
// replace a newer backup entry, otherwise the scrub status.
func Backup(tm *TreeManager, fixup, hashAllFiles bool, p Prompter, out io.Writer) (int, error) {
	fmt.Fprintln(out, "Scrubbing backup directory.")
	result, err := Scrub(tm, fixup, p, out)
	if err != nil {
		return result, err
	}
	switch result {
	case StatusRecovered:
		if !p.AskYesNo("Do you want to continue with the backup?") {
			return result, nil
		}
	case StatusUnrecoverable:
		fmt.Fprintf(out, "%s\n", redb("Refusing to perform backup to an inconsistent directory."))
		return result, nil
	}

	// After the scrub the two metadata trees are consistent, so one copy
	// is enough. The surviving copy cannot be dropped as well even though
	// it agrees with the backup tree: with hash omission the backup tree
	// lacks hashes for unchanged files, while the manifest still carries
	// them.
	tm.DiscardMeta2Tree()
	tm.SaveMetadataOnExit()

	applyResult, err := applyBackupDiff(tm.SrcTree(), tm.DstTree(), tm.Meta1Tree(), p, out)
	if err != nil {
		return StatusUnrecoverable, err
	}
	if applyResult != StatusClean {
		result = applyResult
	}

	if !hashAllFiles {
		fmt.Fprint(out, "Computing missing hashes in metadata files... ")
		if err := tm.Meta1Tree().BindToTopPath(tm.DstTree().TopPath()); err != nil {
			return result, err
		}
		if err := tm.Meta1Tree().ComputeMissingHashes(); err != nil {
			fmt.Fprintf(out, "%s an error occurred while computing missing "+
				"hashes. The metadata files may be corrupt in a silent way. "+
				"Open them and look for an * instead of a hash for some "+
				"files. Bit rot protection will not work for those files.\n",
				redb("Warning:"))
			return result, err
		}
		fmt.Fprintln(out, "Done.")
	}
	return result, nil
}

// BackupPlain mirrors src into dst with no manifest bookkeeping: scan
// both, apply the diff. The original mirror mode for directories that do
// not carry metadata files.
func BackupPlain(src, dst string, parallel bool, warn func(string), p Prompter, out io.Writer) (int, error) {
	fmt.Fprintf(out, "Backing up directory %s\nto directory %s\n", src, dst)
	srcTree, dstTree := tree.New(), tree.New()
	if warn != nil {
		srcTree.SetWarningHandler(warn)
		dstTree.SetWarningHandler(warn)
	}
	fmt.Fprint(out, "Scanning source and backup directory... ")
	if err := scanSourceAndTarget(srcTree, dstTree, src, dst, tree.OmitHash, parallel); err != nil {
		return StatusUnrecoverable, err
	}
	fmt.Fprintln(out, "Done.")
	return applyBackupDiff(srcTree, dstTree, nil, p, out)
}

// applyBackupDiff applies the source-vs-backup diff so the backup becomes
// equal to the source. meta may be nil; when present it is kept in sync
// with every change. Returns StatusUnrecoverable when source bit rot was
// detected, StatusClean otherwise.
func applyBackupDiff(src, dst, meta *tree.Tree, p Prompter, out io.Writer) (int, error) {
	fmt.Fprint(out, "Performing backup.\nComparing source directory with backup directory... ")
	diff := tree.Diff2Trees(src, dst, tree.FullCompare())
	fmt.Fprintln(out, "Done.")

	bitrot := false
	declined := false
	if len(diff) == 0 {
		fmt.Fprintln(out, "No differences found.")
	}
	for _, d := range diff {
		switch {
		case d[0] == nil:
			relPath := d[1].Path
			fmt.Fprintf(out, "- Removing %s %s from backup directory.\n",
				d[1].TypeString(), relPath)
			if _, err := dst.RemoveFromTreeAndFilesystem(relPath); err != nil {
				return StatusUnrecoverable, err
			}
			if meta != nil {
				if err := meta.RemoveFromTree(relPath); err != nil {
					return StatusUnrecoverable, err
				}
			}
		case d[1] == nil:
			relPath := d[0].Path
			fmt.Fprintf(out, "- Copying %s %s to backup directory.\n",
				d[0].TypeString(), relPath)
			if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
				return StatusUnrecoverable, err
			}
			if meta != nil {
				if err := meta.CopyFromTree(src, relPath, tree.ParentPath(relPath)); err != nil {
					return StatusUnrecoverable, err
				}
			}
		default:
			rot, refused, err := reconcileChangedEntry(src, dst, meta, d, p, out)
			if err != nil {
				return StatusUnrecoverable, err
			}
			bitrot = bitrot || rot
			declined = declined || refused
		}
	}
	if bitrot {
		fmt.Fprintf(out, "%s As this tool by design never writes into the "+
			"source directory during a backup, you will have to fix this "+
			"manually. Review the listed files, and if bit rot is confirmed, "+
			"then manually replace the rotten files in the source directory "+
			"with the good copy in the backup directory.\nI suggest also "+
			"running a SMART check as your source disk may be unreliable.\n",
			redb("Bit rot was detected in the source directory."))
		return StatusUnrecoverable, nil
	}
	if declined {
		// The operator chose to keep a newer backup entry: the backup no
		// longer mirrors the source and needs manual attention.
		fmt.Fprintf(out, "%s\n", yellowb("Backup finished with unresolved entries."))
		return StatusRecovered, nil
	}
	fmt.Fprintf(out, "%s\n", greenb("Backup complete."))
	return StatusClean, nil
}

// reconcileChangedEntry handles a diff line where both sides exist but
// differ. Returns whether source bit rot was detected on this entry and
// whether the operator declined a replacement.
func reconcileChangedEntry(src, dst, meta *tree.Tree, d tree.DiffLine2,
	p Prompter, out io.Writer) (bitrot, declined bool, err error) {

	relPath := d[0].Path

	opt := tree.FullCompare()
	opt.Perm, opt.Owner = false, false
	if d[0].Type != extfs.TypeRegular || d[1].Type != extfs.TypeRegular {
		// The hash-omission concern below applies to regular files only.
		opt.Mtime = false
	} else if d[0].Hash != "" && d[1].Hash != "" {
		// With both hashes present a pure mtime difference can be fixed by
		// touching the mtime alone. When either hash was omitted, mtime
		// must stay significant: otherwise a same-size edit would silently
		// never be backed up.
		opt.Mtime = false
	}

	if tree.CompareElements(d[0], d[1], opt) {
		fmt.Fprintf(out, "- Updating the metadata of the %s %s in the backup directory.\n",
			d[0].TypeString(), relPath)
		if d[0].Perm != d[1].Perm {
			if err := dst.ModifyPermissionsInTreeAndFilesystem(relPath, d[0].Perm); err != nil {
				return false, false, err
			}
			if meta != nil {
				if err := meta.ModifyPermissions(relPath, d[0].Perm); err != nil {
					return false, false, err
				}
			}
		}
		if d[0].User != d[1].User || d[0].Group != d[1].Group {
			if err := dst.ModifyOwnerInTreeAndFilesystem(relPath, d[0].User, d[0].Group); err != nil {
				return false, false, err
			}
			if meta != nil {
				if err := meta.ModifyOwner(relPath, d[0].User, d[0].Group); err != nil {
					return false, false, err
				}
			}
		}
		if d[0].Mtime != d[1].Mtime {
			if err := dst.ModifyMtimeInTreeAndFilesystem(relPath, d[0].Mtime); err != nil {
				return false, false, err
			}
			if meta != nil {
				if err := meta.ModifyMtime(relPath, d[0].Mtime); err != nil {
					return false, false, err
				}
			}
		}
		return false, false, nil
	}

	metaOpt := tree.FullCompare()
	metaOpt.Size, metaOpt.Hash, metaOpt.Symlink = false, false, false
	if tree.CompareElements(d[0], d[1], metaOpt) {
		// Content changed without an mtime change: the good copy may well
		// be the backup, so never overwrite it.
		fmt.Fprintf(out, "%s The content of the %s %s changed but the "+
			"modified time did not.\nNOT backing up this %s as the backup "+
			"copy may be the good one.\n",
			redb("Bit rot in the source directory detected."),
			d[0].TypeString(), relPath, d[0].TypeString())
		return true, false, nil
	}

	if d[0].Mtime < d[1].Mtime {
		io.WriteString(out, tree.DiffLine2{d[0], d[1]}.String())
		q := fmt.Sprintf("The %s %s in the backup directory is newer than "+
			"the %s in the source directory, (did you write something "+
			"directly in the backup directory?)\nDo you want me to DELETE "+
			"the backup entry and REPLACE it with the entry in the source "+
			"directory?", d[1].TypeString(), relPath, d[0].TypeString())
		if !p.AskYesNo(q) {
			fmt.Fprintf(out, "%s Note that you have to solve this manually, "+
				"and consider that the %s in the source directory is "+
				"currently without a backup.\n",
				yellowb("Leaving backup inconsistent."), d[0].TypeString())
			return false, true, nil
		}
	}

	fmt.Fprintf(out, "- Replacing the %s %s in the backup directory with the "+
		"%s in the source directory.\n", d[1].TypeString(), relPath, d[0].TypeString())
	if _, err := dst.RemoveFromTreeAndFilesystem(relPath); err != nil {
		return false, false, err
	}
	if err := dst.CopyFromTreeAndFilesystem(src, relPath, tree.ParentPath(relPath)); err != nil {
		return false, false, err
	}
	if meta != nil {
		if err := meta.RemoveFromTree(relPath); err != nil {
			return false, false, err
		}
		if err := meta.CopyFromTree(src, relPath, tree.ParentPath(relPath)); err != nil {
			return false, false, err
		}
	}
	return false, false, nil
}
