package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Item is one file offered for extraction.
type Item struct {
	// ID is the slash-separated path relative to the walk root.
	ID   string
	Path string
	Size int64
}

// Name returns the item's base file name.
func (i Item) Name() string {
	return filepath.Base(i.Path)
}

// Ext returns the lowercased extension including the leading dot.
func (i Item) Ext() string {
	return strings.ToLower(filepath.Ext(i.Path))
}

// Options controls enumeration.
type Options struct {
	Root      string
	Recursive bool
	// Extensions is an allow-list such as ".txt"; empty accepts every file.
	Extensions []string
	SkipHidden bool
	// Exclude holds item ids that must not be offered again.
	Exclude map[string]struct{}
}

// Walk enumerates items under opts.Root.
func Walk(ctx context.Context, opts Options) ([]Item, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, errors.New("source root is required")
	}
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}

	exts := extensionSet(opts.Extensions)
	var items []Item
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		if opts.SkipHidden && isHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(exts) > 0 {
			if _, ok := exts[strings.ToLower(filepath.Ext(path))]; !ok {
				return nil
			}
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		if _, skip := opts.Exclude[id]; skip {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		items = append(items, Item{ID: id, Path: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}

// ExcludeSet builds an Exclude map from processed item ids.
func ExcludeSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func extensionSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if !strings.HasPrefix(value, ".") {
			value = "." + value
		}
		set[value] = struct{}{}
	}
	return set
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
