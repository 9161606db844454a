// Package tree holds the in-memory representation of a directory tree's
// metadata: elements, nodes, the indexed tree itself, the manifest wire
// format, tree mutations and the two- and three-way diff engines.
package tree

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fedetft/directorydiffmerge/internal/extfs"
)

// timeLayout is the manifest timestamp format. Only UTC is supported; the
// +0000 suffix is written and checked literally.
const timeLayout = "2006-01-02 15:04:05"

// ManifestParseError reports a malformed manifest line, carrying enough
// context to point the operator at the exact spot.
type ManifestParseError struct {
	File   string
	Line   int
	Reason string
	Raw    string
}

func (e *ManifestParseError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	fmt.Fprintf(&b, ", wrong line is '%s'", e.Raw)
	return b.String()
}

// Element describes one entry of a directory tree: everything that is
// serialized to the manifest plus the scan-only hardlink count.
type Element struct {
	Type          extfs.FileType
	Perm          uint32 // low 12 POSIX mode bits
	User          string
	Group         string
	Mtime         int64 // seconds since the UNIX epoch, UTC
	Size          int64 // regular files only
	Hash          string // 40 lowercase hex chars, or "" when omitted
	Path          string // relative to the tree top, never absolute
	SymlinkTarget string // symlinks only

	// Nlink is filled at scan time only and never serialized.
	Nlink uint64
}

// IsDirectory reports whether the element is a directory.
func (e *Element) IsDirectory() bool { return e.Type == extfs.TypeDirectory }

// TypeString returns the element type as used in operator messages.
func (e *Element) TypeString() string { return e.Type.String() }

// Less orders siblings for listing: directories first, then alphabetical
// by path, case-sensitive.
func (e *Element) Less(o *Element) bool {
	if e.IsDirectory() != o.IsDirectory() {
		return e.IsDirectory()
	}
	return e.Path < o.Path
}

// Equal is the structural equality used for containment and tree mutation:
// all serialized fields must match, except that an empty hash on either
// side matches any hash. The hardlink count is not considered.
func (e *Element) Equal(o *Element) bool {
	return e.Type == o.Type && e.Perm == o.Perm &&
		e.User == o.User && e.Group == o.Group &&
		e.Mtime == o.Mtime && e.Size == o.Size &&
		e.Path == o.Path && e.SymlinkTarget == o.SymlinkTarget &&
		(e.Hash == "" || o.Hash == "" || e.Hash == o.Hash)
}

// CompareOpt selects which per-field checks a comparison considers.
// Type and path are always considered.
type CompareOpt struct {
	Perm    bool
	Owner   bool
	Mtime   bool
	Size    bool
	Hash    bool
	Symlink bool
}

// FullCompare returns a CompareOpt with every check enabled.
func FullCompare() CompareOpt {
	return CompareOpt{Perm: true, Owner: true, Mtime: true, Size: true, Hash: true, Symlink: true}
}

// ParseIgnoreOpt builds a CompareOpt from a comma- or whitespace-separated
// list of checks to disable: perm, owner, mtime, size, hash, symlink, or
// all. Unknown tokens fail.
func ParseIgnoreOpt(s string) (CompareOpt, error) {
	opt := FullCompare()
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, f := range fields {
		switch f {
		case "perm":
			opt.Perm = false
		case "owner":
			opt.Owner = false
		case "mtime":
			opt.Mtime = false
		case "size":
			opt.Size = false
		case "hash":
			opt.Hash = false
		case "symlink":
			opt.Symlink = false
		case "all":
			opt = CompareOpt{}
		default:
			return opt, fmt.Errorf("ignore option %q not valid", f)
		}
	}
	return opt, nil
}

// CompareElements compares two elements under the given options. Type and
// path are always significant; hashes are only compared when both sides
// carry one.
func CompareElements(a, b *Element, opt CompareOpt) bool {
	if a.Type != b.Type || a.Path != b.Path {
		return false
	}
	if opt.Perm && a.Perm != b.Perm {
		return false
	}
	if opt.Owner && (a.User != b.User || a.Group != b.Group) {
		return false
	}
	if opt.Mtime && a.Mtime != b.Mtime {
		return false
	}
	if opt.Size && a.Size != b.Size {
		return false
	}
	if opt.Hash && a.Hash != b.Hash && a.Hash != "" && b.Hash != "" {
		return false
	}
	if opt.Symlink && a.SymlinkTarget != b.SymlinkTarget {
		return false
	}
	return true
}

// String renders the element in the manifest line format.
func (e *Element) String() string {
	var b strings.Builder
	switch e.Type {
	case extfs.TypeRegular:
		b.WriteByte('-')
	case extfs.TypeDirectory:
		b.WriteByte('d')
	case extfs.TypeSymlink:
		b.WriteByte('l')
	default:
		b.WriteByte('?')
	}
	bits := []struct {
		mask uint32
		c    byte
	}{
		{0o400, 'r'}, {0o200, 'w'}, {0o100, 'x'},
		{0o040, 'r'}, {0o020, 'w'}, {0o010, 'x'},
		{0o004, 'r'}, {0o002, 'w'}, {0o001, 'x'},
	}
	for _, bit := range bits {
		if e.Perm&bit.mask != 0 {
			b.WriteByte(bit.c)
		} else {
			b.WriteByte('-')
		}
	}
	b.WriteByte(' ')
	b.WriteString(e.User)
	b.WriteByte(' ')
	b.WriteString(e.Group)
	b.WriteByte(' ')
	b.WriteString(time.Unix(e.Mtime, 0).UTC().Format(timeLayout))
	b.WriteString(" +0000 ")
	switch e.Type {
	case extfs.TypeRegular:
		b.WriteString(strconv.FormatInt(e.Size, 10))
		b.WriteByte(' ')
		if e.Hash == "" {
			b.WriteString("* ")
		} else {
			b.WriteString(e.Hash)
			b.WriteByte(' ')
		}
	case extfs.TypeSymlink:
		b.WriteString(e.SymlinkTarget)
		b.WriteByte(' ')
	}
	b.WriteString(e.Path)
	return b.String()
}

// ParseElement parses one manifest line. file and lineNo are only used for
// error reporting and may be zero values.
func ParseElement(line, file string, lineNo int) (Element, error) {
	var e Element
	fail := func(reason string) error {
		return &ManifestParseError{File: file, Line: lineNo, Reason: reason, Raw: line}
	}

	fields := strings.Fields(line)
	next := func() (string, bool) {
		if len(fields) == 0 {
			return "", false
		}
		f := fields[0]
		fields = fields[1:]
		return f, true
	}

	permStr, ok := next()
	if !ok || len(permStr) != 10 {
		return e, fail("Error reading permission string")
	}
	switch permStr[0] {
	case '-':
		e.Type = extfs.TypeRegular
	case 'd':
		e.Type = extfs.TypeDirectory
	case 'l':
		e.Type = extfs.TypeSymlink
	case '?':
		e.Type = extfs.TypeUnknown
	default:
		return e, fail("Unrecognized file type")
	}
	var perm uint32
	for i := 0; i < 3; i++ {
		triple := permStr[3*i+1 : 3*i+4]
		perm <<= 3
		switch triple[0] {
		case 'r':
			perm |= 0o004
		case '-':
		default:
			return e, fail("Permissions not correct")
		}
		switch triple[1] {
		case 'w':
			perm |= 0o002
		case '-':
		default:
			return e, fail("Permissions not correct")
		}
		switch triple[2] {
		case 'x':
			perm |= 0o001
		case '-':
		default:
			return e, fail("Permissions not correct")
		}
	}
	e.Perm = perm

	var dateStr, timeStr, zone string
	if e.User, ok = next(); !ok {
		return e, fail("Error reading user/group")
	}
	if e.Group, ok = next(); !ok {
		return e, fail("Error reading user/group")
	}
	if dateStr, ok = next(); !ok {
		return e, fail("Error reading mtime")
	}
	if timeStr, ok = next(); !ok {
		return e, fail("Error reading mtime")
	}
	if zone, ok = next(); !ok || zone != "+0000" {
		return e, fail("Error reading mtime")
	}
	mt, err := time.Parse(timeLayout, dateStr+" "+timeStr)
	if err != nil {
		return e, fail("Error reading mtime")
	}
	e.Mtime = mt.Unix()

	switch e.Type {
	case extfs.TypeRegular:
		sizeStr, ok := next()
		if !ok {
			return e, fail("Error reading size")
		}
		e.Size, err = strconv.ParseInt(sizeStr, 10, 64)
		if err != nil || e.Size < 0 {
			return e, fail("Error reading size")
		}
		hash, ok := next()
		if !ok {
			return e, fail("Error reading hash")
		}
		if hash == "*" {
			e.Hash = "" // * means omitted hash
		} else if isHash(hash) {
			e.Hash = hash
		} else {
			return e, fail("Error reading hash")
		}
	case extfs.TypeSymlink:
		if e.SymlinkTarget, ok = next(); !ok {
			return e, fail("Error reading symlink target")
		}
	}

	if e.Path, ok = next(); !ok {
		return e, fail("Error reading path")
	}
	if len(fields) != 0 {
		return e, fail("Extra characters at end of line")
	}
	e.Nlink = 1
	return e, nil
}

// isHash reports whether s is exactly 40 lowercase hex digits.
func isHash(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
