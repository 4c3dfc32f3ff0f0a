// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filetree

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/torrentdeck/internal/domain"
)

func sampleEntries() []Entry {
	return []Entry{
		{Path: []string{"Show", "Season 1", "e01.mkv"}, Length: 700},
		{Path: []string{"Show", "Season 1", "e02.mkv"}, Length: 650},
		{Path: []string{"Show", "Season 2", "e01.mkv"}, Length: 800},
		{Path: []string{"Show", "extras", "poster.jpg"}, Length: 5},
		{Path: []string{"Show", "readme.txt"}, Length: 1},
	}
}

func mustBuild(t *testing.T, entries []Entry) *Tree {
	t.Helper()
	tree, err := Build(entries)
	require.NoError(t, err)
	return tree
}

func mustFind(t *testing.T, tree *Tree, path ...string) NodeID {
	t.Helper()
	id, ok := tree.Find(path)
	require.True(t, ok, "path %v not found", path)
	return id
}

// checkSizes verifies every directory size equals the sum of its children
func checkSizes(t *testing.T, tree *Tree) {
	t.Helper()
	tree.Walk(tree.Root(), func(id NodeID, _ int) bool {
		if tree.IsLeaf(id) {
			return false
		}
		var sum int64
		for _, child := range tree.Children(id) {
			sum += tree.Size(child)
		}
		assert.Equal(t, sum, tree.Size(id), "size of %v", tree.Path(id))
		return true
	})
}

// snapshot captures size and state for every path in the tree
func snapshot(tree *Tree) map[string][2]int64 {
	out := map[string][2]int64{}
	tree.Walk(tree.Root(), func(id NodeID, _ int) bool {
		key := "/" + strings.Join(tree.Path(id), "/")
		out[key] = [2]int64{tree.Size(id), int64(tree.State(id))}
		return true
	})
	return out
}

func TestBuild_Structure(t *testing.T) {
	tree := mustBuild(t, sampleEntries())

	assert.Equal(t, int64(2156), tree.Size(tree.Root()))
	assert.Equal(t, 5, tree.FileCount(tree.Root()))

	show := mustFind(t, tree, "Show")
	assert.False(t, tree.IsLeaf(show))
	assert.Equal(t, "Show", tree.Name(show))
	assert.Equal(t, tree.Root(), tree.Parent(show))

	names := []string{}
	for _, child := range tree.Children(show) {
		names = append(names, tree.Name(child))
	}
	assert.Equal(t, []string{"Season 1", "Season 2", "extras", "readme.txt"}, names)

	season1 := mustFind(t, tree, "Show", "Season 1")
	assert.Equal(t, int64(1350), tree.Size(season1))

	file := mustFind(t, tree, "Show", "Season 1", "e02.mkv")
	assert.True(t, tree.IsLeaf(file))
	assert.Equal(t, int64(650), tree.Size(file))
	assert.Equal(t, []string{"Show", "Season 1", "e02.mkv"}, tree.Path(file))

	checkSizes(t, tree)
}

func TestBuild_EverythingStartsChecked(t *testing.T) {
	tree := mustBuild(t, sampleEntries())

	tree.Walk(tree.Root(), func(id NodeID, _ int) bool {
		assert.Equal(t, Checked, tree.State(id), "node %v", tree.Path(id))
		return true
	})
	assert.True(t, tree.AllSelected())
	assert.Len(t, tree.SelectedFiles(), 5)
}

func TestBuild_OrderIndependent(t *testing.T) {
	entries := sampleEntries()
	want := snapshot(mustBuild(t, entries))

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, snapshot(mustBuild(t, shuffled)))
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{
			name: "duplicate leaf",
			entries: []Entry{
				{Path: []string{"a", "b.txt"}, Length: 1},
				{Path: []string{"a", "b.txt"}, Length: 2},
			},
		},
		{
			name: "file used as directory",
			entries: []Entry{
				{Path: []string{"a"}, Length: 1},
				{Path: []string{"a", "b"}, Length: 1},
			},
		},
		{
			name: "directory used as file",
			entries: []Entry{
				{Path: []string{"a", "b"}, Length: 1},
				{Path: []string{"a"}, Length: 1},
			},
		},
		{
			name:    "empty segment",
			entries: []Entry{{Path: []string{"a", "", "b"}, Length: 1}},
		},
		{
			name:    "empty path",
			entries: []Entry{{Path: nil, Length: 1}},
		},
		{
			name:    "negative length",
			entries: []Entry{{Path: []string{"a"}, Length: -1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := Build(tt.entries)
			require.Error(t, err)
			assert.Nil(t, tree)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestBuild_Empty(t *testing.T) {
	tree := mustBuild(t, nil)
	assert.Equal(t, 1, tree.Len())
	assert.Equal(t, int64(0), tree.Size(tree.Root()))
	assert.Equal(t, Checked, tree.State(tree.Root()))
	assert.Empty(t, tree.SelectedFiles())
	assert.False(t, tree.NoneSelected())
}

func TestBuild_SingleFile(t *testing.T) {
	tree := mustBuild(t, []Entry{{Path: []string{"movie.mkv"}, Length: 42}})
	file := mustFind(t, tree, "movie.mkv")
	assert.True(t, tree.IsLeaf(file))
	assert.Equal(t, int64(42), tree.Size(tree.Root()))
	assert.Equal(t, [][]string{{"movie.mkv"}}, tree.SelectedFiles())
}

func TestToggle_CascadeAndDerive(t *testing.T) {
	tree := mustBuild(t, sampleEntries())
	show := mustFind(t, tree, "Show")
	season1 := mustFind(t, tree, "Show", "Season 1")
	season2 := mustFind(t, tree, "Show", "Season 2")
	e01 := mustFind(t, tree, "Show", "Season 1", "e01.mkv")
	e02 := mustFind(t, tree, "Show", "Season 1", "e02.mkv")

	tree.Toggle(e01, false)
	assert.Equal(t, Unchecked, tree.State(e01))
	assert.Equal(t, Checked, tree.State(e02))
	assert.Equal(t, Partial, tree.State(season1))
	assert.Equal(t, Partial, tree.State(show))
	assert.Equal(t, Partial, tree.State(tree.Root()))
	assert.Equal(t, Checked, tree.State(season2))

	tree.Toggle(e02, false)
	assert.Equal(t, Unchecked, tree.State(season1))
	assert.Equal(t, Partial, tree.State(show))

	tree.Toggle(season1, true)
	assert.Equal(t, Checked, tree.State(e01))
	assert.Equal(t, Checked, tree.State(e02))
	assert.Equal(t, Checked, tree.State(show))

	tree.Toggle(show, false)
	tree.Walk(show, func(id NodeID, _ int) bool {
		assert.Equal(t, Unchecked, tree.State(id))
		return true
	})
	assert.True(t, tree.NoneSelected())
	assert.Empty(t, tree.SelectedFiles())

	checkSizes(t, tree)
	assert.Equal(t, int64(2156), tree.Size(tree.Root()))
}

func TestToggle_Idempotent(t *testing.T) {
	tree := mustBuild(t, sampleEntries())
	season1 := mustFind(t, tree, "Show", "Season 1")

	tree.Toggle(season1, false)
	once := snapshot(tree)
	tree.Toggle(season1, false)
	assert.Equal(t, once, snapshot(tree))
}

func TestToggle_RoundTripRestoresState(t *testing.T) {
	tree := mustBuild(t, sampleEntries())
	before := snapshot(tree)

	tree.Walk(tree.Root(), func(id NodeID, _ int) bool {
		tree.Toggle(id, false)
		tree.Toggle(id, true)
		assert.Equal(t, before, snapshot(tree), "node %v", tree.Path(id))
		return true
	})
}

func TestToggle_DirectoryStateMatchesChildren(t *testing.T) {
	tree := mustBuild(t, sampleEntries())
	rng := rand.New(rand.NewSource(7))

	var all []NodeID
	tree.Walk(tree.Root(), func(id NodeID, _ int) bool {
		all = append(all, id)
		return true
	})

	for i := 0; i < 200; i++ {
		tree.Toggle(all[rng.Intn(len(all))], rng.Intn(2) == 0)

		tree.Walk(tree.Root(), func(id NodeID, _ int) bool {
			if tree.IsLeaf(id) {
				return false
			}
			var checked, unchecked int
			children := tree.Children(id)
			for _, child := range children {
				switch tree.State(child) {
				case Checked:
					checked++
				case Unchecked:
					unchecked++
				}
			}
			want := Partial
			if checked == len(children) {
				want = Checked
			} else if unchecked == len(children) {
				want = Unchecked
			}
			assert.Equal(t, want, tree.State(id), "directory %v", tree.Path(id))
			return true
		})
	}
}

func TestSelectedFiles(t *testing.T) {
	tree := mustBuild(t, sampleEntries())
	tree.Toggle(mustFind(t, tree, "Show", "Season 2"), false)
	tree.Toggle(mustFind(t, tree, "Show", "extras"), false)

	assert.Equal(t, []string{
		"Show/Season 1/e01.mkv",
		"Show/Season 1/e02.mkv",
		"Show/readme.txt",
	}, tree.SelectedPaths())
	assert.Equal(t, int64(1351), tree.SelectedSize())
	assert.False(t, tree.AllSelected())
}

func TestFind_Missing(t *testing.T) {
	tree := mustBuild(t, sampleEntries())

	_, ok := tree.Find([]string{"Show", "nope"})
	assert.False(t, ok)

	_, ok = tree.Find([]string{"Show", "readme.txt", "deeper"})
	assert.False(t, ok)

	root, ok := tree.Find(nil)
	assert.True(t, ok)
	assert.Equal(t, tree.Root(), root)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c.txt"}, SplitPath("a/b/c.txt"))
	assert.Equal(t, []string{"c.txt"}, SplitPath("c.txt"))
}
