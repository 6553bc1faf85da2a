package batch

import (
	"path/filepath"

	"docbatch/internal/source"
)

// WorkItem is one unit of input for a run. Attempts is per run.
type WorkItem struct {
	ID       string
	Path     string
	Size     int64
	Attempts int
}

// Name returns the display name used in progress callbacks.
func (w WorkItem) Name() string {
	if w.Path != "" {
		return filepath.Base(w.Path)
	}
	return w.ID
}

func (w WorkItem) sourceItem() source.Item {
	return source.Item{ID: w.ID, Path: w.Path, Size: w.Size}
}

// FromSource converts enumerated source items into work items.
func FromSource(items []source.Item) []WorkItem {
	out := make([]WorkItem, len(items))
	for i, item := range items {
		out[i] = WorkItem{ID: item.ID, Path: item.Path, Size: item.Size}
	}
	return out
}
