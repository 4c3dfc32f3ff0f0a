// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CheckState is the tri-state selection value of a node
type CheckState uint8

const (
	Unchecked CheckState = iota
	Checked
	Partial
)

func (s CheckState) String() string {
	switch s {
	case Checked:
		return "checked"
	case Partial:
		return "partial"
	default:
		return "unchecked"
	}
}

func (s CheckState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *CheckState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "checked":
		*s = Checked
	case "partial":
		*s = Partial
	case "unchecked":
		*s = Unchecked
	default:
		return fmt.Errorf("unknown check state %q", name)
	}
	return nil
}

// State returns the selection state of a node. Leaves report their own flag;
// directories are checked when every file beneath is checked, unchecked when
// none is, and partial otherwise.
func (t *Tree) State(id NodeID) CheckState {
	n := t.nodes[id]
	if n.leaf {
		if n.checked {
			return Checked
		}
		return Unchecked
	}
	switch n.checkedLeaves {
	case n.leaves:
		return Checked
	case 0:
		return Unchecked
	default:
		return Partial
	}
}

// Toggle sets every file at or beneath the node to checked and updates the
// derived state of all ancestors.
func (t *Tree) Toggle(id NodeID, checked bool) {
	delta := t.cascade(id, checked)
	if delta == 0 {
		return
	}

	// directory counters of the subtree were fixed by cascade; the ancestor
	// chain only needs the net change
	for cur := t.nodes[id].parent; cur != NoNode; cur = t.nodes[cur].parent {
		t.nodes[cur].checkedLeaves += delta
	}
}

// cascade applies the value to the subtree and returns the change in the
// number of checked leaves.
func (t *Tree) cascade(id NodeID, checked bool) int {
	n := &t.nodes[id]
	if n.leaf {
		if n.checked == checked {
			return 0
		}
		n.checked = checked
		if checked {
			return 1
		}
		return -1
	}

	delta := 0
	for _, child := range n.children {
		delta += t.cascade(child, checked)
	}
	t.nodes[id].checkedLeaves += delta
	return delta
}

// SelectedFiles returns the paths of every checked file in tree order
func (t *Tree) SelectedFiles() [][]string {
	var selected [][]string
	t.Walk(t.Root(), func(id NodeID, _ int) bool {
		n := t.nodes[id]
		if n.leaf {
			if n.checked {
				selected = append(selected, t.Path(id))
			}
			return false
		}
		return n.checkedLeaves > 0
	})
	return selected
}

// SelectedPaths is SelectedFiles joined with "/"
func (t *Tree) SelectedPaths() []string {
	files := t.SelectedFiles()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = strings.Join(f, "/")
	}
	return paths
}

// SelectedSize sums the lengths of all checked files
func (t *Tree) SelectedSize() int64 {
	var total int64
	for _, n := range t.nodes {
		if n.leaf && n.checked {
			total += n.size
		}
	}
	return total
}

// AllSelected reports whether no file has been deselected
func (t *Tree) AllSelected() bool {
	return t.State(t.Root()) == Checked
}

// NoneSelected reports whether every file has been deselected
func (t *Tree) NoneSelected() bool {
	root := t.nodes[t.Root()]
	return root.leaves > 0 && root.checkedLeaves == 0
}
