// Package tree navigates a workflow definition's task tree through paths.
//
// A Path is an ordered list of segments: an Index selects an element of a node
// sequence, a Key descends into a branch of a Decision, Parallel or DynamicTask
// node. Everything here is pure; parentage is derived from the path on demand.
package tree

import (
	"strconv"
	"strings"
)

// Segment is one step of a Path: either an Index or a Key.
type Segment interface {
	String() string
	segment()
}

// Index selects an element of a node sequence.
type Index int

// Key names a branch container, or a decision case.
type Key string

func (i Index) segment() {}
func (k Key) segment()   {}

func (i Index) String() string { return strconv.Itoa(int(i)) }
func (k Key) String() string   { return string(k) }

const (
	KeyParallelTasks   Key = "parallelTasks"
	KeyDecisions       Key = "decisions"
	KeyDefaultDecision Key = "defaultDecision"
	KeyDynamicTasks    Key = "dynamicTasks"
)

// Path locates a node in a task tree.
type Path []Segment

// Root returns the path of the i-th root node.
func Root(i int) Path {
	return Path{Index(i)}
}

// Child appends segments to a copy of the path.
func (p Path) Child(segments ...Segment) Path {
	child := make(Path, 0, len(p)+len(segments))
	child = append(child, p...)

	return append(child, segments...)
}

// Parent drops the last n segments.
func (p Path) Parent(n int) Path {
	if n > len(p) {
		return nil
	}

	return p[:len(p)-n:len(p)-n]
}

// Equal reports whether both paths hold the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}

	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}

	return true
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, segment := range p {
		parts[i] = segment.String()
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// NextPath returns the path with its last index incremented by one, or nil
// when the path does not end on a sequence element.
func NextPath(p Path) Path {
	if len(p) == 0 {
		return nil
	}

	last, ok := p[len(p)-1].(Index)
	if !ok {
		return nil
	}

	next := p.Parent(1).Child(last + 1)

	return next
}
