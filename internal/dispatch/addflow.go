// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/torrentdeck/internal/backend"
	"github.com/autobrr/torrentdeck/internal/domain"
	"github.com/autobrr/torrentdeck/internal/filetree"
)

// Phase is the step the add-torrent flow is in
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseParsing   Phase = "parsing"
	PhaseReady     Phase = "ready"
	PhaseUploading Phase = "uploading"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// ErrNoFlow is returned when an add-flow step runs with no flow open
var ErrNoFlow = errors.New("no torrent is being added")

// AddFlow tracks one add-torrent dialog: parse, file selection, confirm. Every
// Begin and Cancel bumps the generation so responses for an earlier file are
// recognised and dropped.
type AddFlow struct {
	generation   uint64
	phase        Phase
	file         *backend.TorrentFile
	metadata     *backend.Metadata
	tree         *filetree.Tree
	downloadPath string
	err          error
	ack          *backend.UploadAck
}

// NewAddFlow returns an idle flow
func NewAddFlow() *AddFlow {
	return &AddFlow{phase: PhaseIdle}
}

// Generation returns the current flow generation
func (f *AddFlow) Generation() uint64 { return f.generation }

// Phase returns the current step
func (f *AddFlow) Phase() Phase { return f.phase }

// Tree returns the selection tree once metadata has been parsed
func (f *AddFlow) Tree() *filetree.Tree { return f.tree }

// Begin starts a new flow for file, superseding any earlier one
func (f *AddFlow) Begin(file backend.TorrentFile, downloadPath string) uint64 {
	f.generation++
	f.phase = PhaseParsing
	f.file = &file
	f.metadata = nil
	f.tree = nil
	f.downloadPath = downloadPath
	f.err = nil
	f.ack = nil

	log.Debug().Uint64("generation", f.generation).Str("file", file.Name).Msg("Add flow started")

	return f.generation
}

// Cancel closes the flow. Responses still in flight become stale.
func (f *AddFlow) Cancel() {
	if f.phase == PhaseIdle {
		return
	}
	f.generation++
	f.phase = PhaseIdle
	f.file = nil
	f.metadata = nil
	f.tree = nil
	f.err = nil
	f.ack = nil
}

func (f *AddFlow) checkGeneration(generation uint64) error {
	if generation != f.generation {
		return &domain.StaleResponseError{Generation: generation, Current: f.generation}
	}
	return nil
}

// ResolveParse applies a parse response. Metadata is accepted only for the
// current generation and only if its file listing builds a valid tree.
func (f *AddFlow) ResolveParse(generation uint64, meta *backend.Metadata, err error) error {
	if staleErr := f.checkGeneration(generation); staleErr != nil {
		return staleErr
	}
	if f.phase != PhaseParsing {
		return &domain.StaleResponseError{Generation: generation, Current: f.generation}
	}

	if err != nil {
		f.phase = PhaseFailed
		f.err = err
		return err
	}

	tree, buildErr := filetree.Build(meta.Entries())
	if buildErr != nil {
		f.phase = PhaseFailed
		f.err = buildErr
		return buildErr
	}

	f.metadata = meta
	f.tree = tree
	f.phase = PhaseReady
	return nil
}

// Toggle changes the selection of a node in the tree
func (f *AddFlow) Toggle(id filetree.NodeID, checked bool) error {
	if f.tree == nil || (f.phase != PhaseReady && f.phase != PhaseFailed) {
		return ErrNoFlow
	}
	if !f.tree.Valid(id) {
		return &domain.ValidationError{Field: "node", Reason: fmt.Sprintf("unknown node %d", id)}
	}
	f.tree.Toggle(id, checked)
	return nil
}

// TogglePath changes the selection of the node at a slash separated path
func (f *AddFlow) TogglePath(path string, checked bool) error {
	if f.tree == nil {
		return ErrNoFlow
	}
	var segments []string
	if path = strings.Trim(path, "/"); path != "" {
		segments = filetree.SplitPath(path)
	}
	id, ok := f.tree.Find(segments)
	if !ok {
		return &domain.ValidationError{Field: "path", Reason: fmt.Sprintf("%q is not part of this torrent", path)}
	}
	return f.Toggle(id, checked)
}

// SetDownloadPath changes where the torrent will be saved
func (f *AddFlow) SetDownloadPath(path string) {
	f.downloadPath = path
}

// DownloadPath returns where the torrent will be saved
func (f *AddFlow) DownloadPath() string { return f.downloadPath }

// PrepareUpload validates the flow and builds the upload request. Selection
// is nil when every file is checked.
func (f *AddFlow) PrepareUpload() (uint64, backend.UploadRequest, error) {
	if f.tree == nil || f.file == nil || (f.phase != PhaseReady && f.phase != PhaseFailed) {
		return 0, backend.UploadRequest{}, ErrNoFlow
	}
	if strings.TrimSpace(f.downloadPath) == "" {
		return 0, backend.UploadRequest{}, &domain.ValidationError{Field: "downloadPath", Reason: "download path is required"}
	}
	if f.tree.NoneSelected() {
		return 0, backend.UploadRequest{}, &domain.ValidationError{Field: "selection", Reason: "no files selected"}
	}

	req := backend.UploadRequest{
		File:         *f.file,
		DownloadPath: f.downloadPath,
	}
	if !f.tree.AllSelected() {
		req.Selection = f.tree.SelectedPaths()
	}

	f.phase = PhaseUploading
	f.err = nil
	return f.generation, req, nil
}

// ResolveUpload applies the confirm response. A failed upload returns the
// flow to the selection step so the user can retry; a successful one discards
// the selection tree.
func (f *AddFlow) ResolveUpload(generation uint64, ack *backend.UploadAck, err error) error {
	if staleErr := f.checkGeneration(generation); staleErr != nil {
		return staleErr
	}
	if f.phase != PhaseUploading {
		return &domain.StaleResponseError{Generation: generation, Current: f.generation}
	}

	if err != nil {
		f.phase = PhaseFailed
		f.err = err
		return err
	}

	// the selection is spent once the engine accepted the torrent
	f.phase = PhaseDone
	f.ack = ack
	f.tree = nil
	return nil
}

// FlowNode is one row of the flattened selection tree
type FlowNode struct {
	ID     filetree.NodeID     `json:"id"`
	Name   string              `json:"name"`
	Path   string              `json:"path"`
	Depth  int                 `json:"depth"`
	IsLeaf bool                `json:"isLeaf"`
	Size   int64               `json:"size"`
	State  filetree.CheckState `json:"state"`
}

// FlowView is an immutable copy of the flow for rendering
type FlowView struct {
	Generation    uint64             `json:"generation"`
	Phase         Phase              `json:"phase"`
	FileName      string             `json:"fileName,omitempty"`
	DownloadPath  string             `json:"downloadPath"`
	Metadata      *backend.Metadata  `json:"metadata,omitempty"`
	Nodes         []FlowNode         `json:"nodes,omitempty"`
	SelectedSize  int64              `json:"selectedSize"`
	SelectedFiles int                `json:"selectedFiles"`
	TotalFiles    int                `json:"totalFiles"`
	Error         string             `json:"error,omitempty"`
	Ack           *backend.UploadAck `json:"ack,omitempty"`
}

// View flattens the flow. The root node is omitted.
func (f *AddFlow) View() FlowView {
	v := FlowView{
		Generation:   f.generation,
		Phase:        f.phase,
		DownloadPath: f.downloadPath,
		Metadata:     f.metadata,
		Ack:          f.ack,
	}
	if f.file != nil {
		v.FileName = f.file.Name
	}
	if f.err != nil {
		v.Error = f.err.Error()
	}

	if f.tree != nil {
		tree := f.tree
		tree.Walk(tree.Root(), func(id filetree.NodeID, depth int) bool {
			if id == tree.Root() {
				return true
			}
			v.Nodes = append(v.Nodes, FlowNode{
				ID:     id,
				Name:   tree.Name(id),
				Path:   strings.Join(tree.Path(id), "/"),
				Depth:  depth - 1,
				IsLeaf: tree.IsLeaf(id),
				Size:   tree.Size(id),
				State:  tree.State(id),
			})
			return true
		})
		v.SelectedSize = tree.SelectedSize()
		v.SelectedFiles = len(tree.SelectedFiles())
		v.TotalFiles = tree.FileCount(tree.Root())
	}

	return v
}
