package tree

import (
	"fmt"
	"io"
	"strings"
)

// DiffLine2 is one two-way disagreement. Slot 0 belongs to the first tree,
// slot 1 to the second; nil marks an absent entry.
type DiffLine2 [2]*Element

// DiffLine3 is one three-way disagreement. Slot 0 is the backup, slot 1
// the first manifest, slot 2 the second manifest.
type DiffLine3 [3]*Element

// Diff2 and Diff3 are ordered disagreement lists. Output order follows the
// tree traversal and is stable for a given input.
type (
	Diff2 []DiffLine2
	Diff3 []DiffLine3
)

// SlotEqual compares two optional diff slots the way the engines need:
// two absent slots are equal, an absent and a present slot differ, and two
// present slots use structural element equality.
func SlotEqual(a, b *Element) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(b)
}

func formatSlot(prefix string, e *Element) string {
	if e == nil {
		return prefix + " /dev/null\n"
	}
	return prefix + " " + e.String() + "\n"
}

func (d DiffLine2) String() string {
	return formatSlot("-", d[0]) + formatSlot("+", d[1])
}

func (d DiffLine3) String() string {
	return formatSlot("a", d[0]) + formatSlot("b", d[1]) + formatSlot("c", d[2])
}

// Print writes the diff in the two-way diff format, one blank line
// after each disagreement.
func (d Diff2) Print(w io.Writer) error {
	var b strings.Builder
	for _, line := range d {
		b.WriteString(line.String())
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("writing diff: %w", err)
	}
	return nil
}

// Print writes the diff in the three-way diff format.
func (d Diff3) Print(w io.Writer) error {
	var b strings.Builder
	for _, line := range d {
		b.WriteString(line.String())
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fmt.Errorf("writing diff: %w", err)
	}
	return nil
}

// Diff2Trees computes the two-way diff of a and b under the given compare
// options.
func Diff2Trees(a, b *Tree, opt CompareOpt) Diff2 {
	s := &diff2state{a: a.index, b: b.index, opt: opt}
	s.compare(a.root, b.root)
	return s.result
}

// Diff3Trees computes the three-way diff of a, b and c under the given
// compare options.
func Diff3Trees(a, b, c *Tree, opt CompareOpt) Diff3 {
	s := &diff3state{a: a.index, b: b.index, c: c.index, opt: opt}
	s.compare(a.root, b.root, c.root)
	return s.result
}

// unionNames lists the distinct child names at one level, in first-seen
// order across the sibling lists, which keeps diff output deterministic.
func unionNames(lists ...[]*Node) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, list := range lists {
		for _, n := range list {
			if _, ok := seen[n.elem.Path]; !ok {
				seen[n.elem.Path] = struct{}{}
				names = append(names, n.elem.Path)
			}
		}
	}
	return names
}

type diff2state struct {
	a, b   map[string]*Node
	opt    CompareOpt
	result Diff2
}

// compare walks one sibling level. The union is scoped to siblings even
// though lookup goes through the flat indices, which bounds per-step work
// by the branching factor. Recursion only descends into directories
// present on both sides; an entry missing on one side is reported as a
// single line with the absent subtree implicit.
func (s *diff2state) compare(an, bn []*Node) {
	names := unionNames(an, bn)
	var common [][2]*Node
	for _, name := range names {
		na, aok := s.a[name]
		nb, bok := s.b[name]
		switch {
		case aok && bok:
			ae, be := na.elem, nb.elem
			if !CompareElements(&ae, &be, s.opt) {
				s.result = append(s.result, DiffLine2{&ae, &be})
			}
			if ae.IsDirectory() && be.IsDirectory() {
				common = append(common, [2]*Node{na, nb})
			}
		case bok:
			be := nb.elem
			s.result = append(s.result, DiffLine2{nil, &be})
		case aok:
			ae := na.elem
			s.result = append(s.result, DiffLine2{&ae, nil})
		}
	}
	for _, dirs := range common {
		s.compare(dirs[0].children, dirs[1].children)
	}
}

type diff3state struct {
	a, b, c map[string]*Node
	opt     CompareOpt
	result  Diff3
}

func (s *diff3state) compare(an, bn, cn []*Node) {
	names := unionNames(an, bn, cn)
	var common [][3]*Node
	for _, name := range names {
		na, aok := s.a[name]
		nb, bok := s.b[name]
		nc, cok := s.c[name]

		if aok && bok && cok {
			ae, be, ce := na.elem, nb.elem, nc.elem
			ab := CompareElements(&ae, &be, s.opt)
			bc := CompareElements(&be, &ce, s.opt)
			if !ab || !bc {
				s.result = append(s.result, DiffLine3{&ae, &be, &ce})
			}

			numDirs := 0
			for _, e := range []*Element{&ae, &be, &ce} {
				if e.IsDirectory() {
					numDirs++
				}
			}
			if numDirs >= 2 {
				trio := [3]*Node{na, nb, nc}
				for i, e := range []*Element{&ae, &be, &ce} {
					if !e.IsDirectory() {
						trio[i] = nil
					}
				}
				common = append(common, trio)
			}
			continue
		}

		// At least one slot is missing: always a difference.
		var line DiffLine3
		var present []*Node
		if aok {
			ae := na.elem
			line[0] = &ae
			present = append(present, na)
		}
		if bok {
			be := nb.elem
			line[1] = &be
			present = append(present, nb)
		}
		if cok {
			ce := nc.elem
			line[2] = &ce
			present = append(present, nc)
		}
		s.result = append(s.result, line)

		if len(present) == 2 &&
			present[0].elem.IsDirectory() && present[1].elem.IsDirectory() {
			var trio [3]*Node
			if aok {
				trio[0] = na
			}
			if bok {
				trio[1] = nb
			}
			if cok {
				trio[2] = nc
			}
			common = append(common, trio)
		}
	}

	for _, dirs := range common {
		switch {
		case dirs[0] != nil && dirs[1] != nil && dirs[2] != nil:
			s.compare(dirs[0].children, dirs[1].children, dirs[2].children)
		case dirs[0] == nil:
			// One slot gone: the problem reduces to a projected two-way
			// diff, with the missing slot staying absent in the output.
			sub := &diff2state{a: s.b, b: s.c, opt: s.opt}
			sub.compare(dirs[1].children, dirs[2].children)
			for _, r := range sub.result {
				s.result = append(s.result, DiffLine3{nil, r[0], r[1]})
			}
		case dirs[1] == nil:
			sub := &diff2state{a: s.a, b: s.c, opt: s.opt}
			sub.compare(dirs[0].children, dirs[2].children)
			for _, r := range sub.result {
				s.result = append(s.result, DiffLine3{r[0], nil, r[1]})
			}
		default:
			sub := &diff2state{a: s.a, b: s.b, opt: s.opt}
			sub.compare(dirs[0].children, dirs[1].children)
			for _, r := range sub.result {
				s.result = append(s.result, DiffLine3{r[0], r[1], nil})
			}
		}
	}
}
