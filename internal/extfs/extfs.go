//go:build unix

package extfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SymlinkStatus lstats the given path, never following symlinks, and
// resolves the owning user and group through the process-wide caches.
func SymlinkStatus(path string) (Status, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Status{}, fmt.Errorf("lstat %s: %w", path, err)
	}

	s := Status{
		Perm:  uint32(st.Mode) & 0o7777,
		User:  LookupUser(st.Uid),
		Group: LookupGroup(st.Gid),
		Mtime: st.Mtim.Sec,
		Size:  st.Size,
		Nlink: uint64(st.Nlink),
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		s.Type = TypeRegular
	case unix.S_IFDIR:
		s.Type = TypeDirectory
	case unix.S_IFLNK:
		s.Type = TypeSymlink
	default:
		s.Type = TypeUnknown
	}
	return s, nil
}

// ReadSymlink returns the literal link target, unresolved.
func ReadSymlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("readlink %s: %w", path, err)
	}
	return target, nil
}

// SetSymlinkMtime updates the modification time of a path without following
// symlinks. The access time is left untouched (UTIME_OMIT).
func SetSymlinkMtime(path string, mtime int64) error {
	times := []unix.Timespec{
		{Nsec: unix.UTIME_OMIT},
		{Sec: mtime},
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("utimensat %s: %w", path, err)
	}
	return nil
}

// ChownSymlink changes the owner and group of a path without following
// symlinks. The user and group are given in textual form; unknown names
// fail with UserNotFoundError or GroupNotFoundError, since applying a
// numeric guess would lose information.
func ChownSymlink(path, user, group string) error {
	uid, err := LookupUserID(user)
	if err != nil {
		return err
	}
	gid, err := LookupGroupID(group)
	if err != nil {
		return err
	}
	if err := unix.Lchown(path, int(uid), int(gid)); err != nil {
		return fmt.Errorf("lchown %s: %w", path, err)
	}
	return nil
}
