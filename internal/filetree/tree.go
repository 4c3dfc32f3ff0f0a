// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filetree builds the hierarchical file view of a torrent and tracks
// which files the user wants to download.
package filetree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/autobrr/torrentdeck/internal/domain"
)

// NodeID indexes a node inside a Tree. The root is always 0.
type NodeID int

// NoNode is the parent of the root
const NoNode NodeID = -1

// Entry is one file of a torrent as reported by the metadata parser
type Entry struct {
	Path   []string
	Length int64
}

// SplitPath turns a slash separated path into segments
func SplitPath(p string) []string {
	return strings.Split(p, "/")
}

type node struct {
	name     string
	leaf     bool
	size     int64
	parent   NodeID
	children map[string]NodeID

	// leaf only
	checked bool

	// directory only; directory state is derived from these
	leaves        int
	checkedLeaves int
}

// Tree is an arena of nodes. Its structure is fixed once built; only leaf
// check states change afterwards.
type Tree struct {
	nodes []node
}

// Build constructs a tree from a flat file listing. Every file starts checked.
// Duplicate paths, empty segments, negative lengths and paths that use a file
// as a directory are rejected with a *domain.ValidationError.
func Build(entries []Entry) (*Tree, error) {
	t := &Tree{
		nodes: []node{{parent: NoNode, children: map[string]NodeID{}}},
	}

	for i, entry := range entries {
		if err := t.insert(entry); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	return t, nil
}

func (t *Tree) insert(entry Entry) error {
	display := strings.Join(entry.Path, "/")

	if len(entry.Path) == 0 {
		return &domain.ValidationError{Field: "path", Reason: "empty path"}
	}
	if entry.Length < 0 {
		return &domain.ValidationError{Field: display, Reason: fmt.Sprintf("negative length %d", entry.Length)}
	}
	for _, segment := range entry.Path {
		if segment == "" {
			return &domain.ValidationError{Field: display, Reason: "empty path segment"}
		}
	}

	current := NodeID(0)
	for i, segment := range entry.Path {
		last := i == len(entry.Path)-1
		parent := &t.nodes[current]

		if existing, ok := parent.children[segment]; ok {
			child := t.nodes[existing]
			switch {
			case last && child.leaf:
				return &domain.ValidationError{Field: display, Reason: "duplicate file path"}
			case last && !child.leaf:
				return &domain.ValidationError{Field: display, Reason: "file path collides with a directory"}
			case !last && child.leaf:
				return &domain.ValidationError{Field: display, Reason: fmt.Sprintf("%q is a file, not a directory", segment)}
			}
			current = existing
			continue
		}

		id := NodeID(len(t.nodes))
		n := node{name: segment, parent: current, leaf: last}
		if last {
			n.checked = true
		} else {
			n.children = map[string]NodeID{}
		}
		t.nodes = append(t.nodes, n)
		t.nodes[current].children[segment] = id
		current = id
	}

	// sizes and leaf counters along the whole path, root included
	for id := current; id != NoNode; id = t.nodes[id].parent {
		n := &t.nodes[id]
		n.size += entry.Length
		if !n.leaf {
			n.leaves++
			n.checkedLeaves++
		}
	}

	return nil
}

// Root returns the root node id
func (t *Tree) Root() NodeID { return 0 }

// Len returns the number of nodes including the root
func (t *Tree) Len() int { return len(t.nodes) }

// Valid reports whether id refers to a node of this tree
func (t *Tree) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

// Name returns the path segment of the node; the root has an empty name
func (t *Tree) Name(id NodeID) string { return t.nodes[id].name }

// IsLeaf reports whether the node is a file
func (t *Tree) IsLeaf(id NodeID) bool { return t.nodes[id].leaf }

// Size returns the total length of all files at or beneath the node
func (t *Tree) Size(id NodeID) int64 { return t.nodes[id].size }

// Parent returns the parent id, or NoNode for the root
func (t *Tree) Parent(id NodeID) NodeID { return t.nodes[id].parent }

// FileCount returns the number of files at or beneath the node
func (t *Tree) FileCount(id NodeID) int {
	if t.nodes[id].leaf {
		return 1
	}
	return t.nodes[id].leaves
}

// Children returns the children of a node, directories first, then by name
func (t *Tree) Children(id NodeID) []NodeID {
	n := t.nodes[id]
	if n.leaf || len(n.children) == 0 {
		return nil
	}

	ids := make([]NodeID, 0, len(n.children))
	for _, child := range n.children {
		ids = append(ids, child)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := t.nodes[ids[i]], t.nodes[ids[j]]
		if a.leaf != b.leaf {
			return !a.leaf
		}
		return a.name < b.name
	})
	return ids
}

// Path returns the segments from the root down to the node
func (t *Tree) Path(id NodeID) []string {
	var segments []string
	for cur := id; cur != NoNode && cur != t.Root(); cur = t.nodes[cur].parent {
		segments = append(segments, t.nodes[cur].name)
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return segments
}

// Find resolves a path to a node id
func (t *Tree) Find(path []string) (NodeID, bool) {
	current := t.Root()
	for _, segment := range path {
		n := t.nodes[current]
		if n.leaf {
			return NoNode, false
		}
		next, ok := n.children[segment]
		if !ok {
			return NoNode, false
		}
		current = next
	}
	return current, true
}

// Walk visits the node and its descendants depth-first in Children order.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(id NodeID, fn func(id NodeID, depth int) bool) {
	t.walk(id, 0, fn)
}

func (t *Tree) walk(id NodeID, depth int, fn func(NodeID, int) bool) {
	if !fn(id, depth) {
		return
	}
	for _, child := range t.Children(id) {
		t.walk(child, depth+1, fn)
	}
}
