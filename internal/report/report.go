package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docbatch/internal/fileutil"
	"docbatch/internal/jobstore"
	"docbatch/internal/logging"
	"docbatch/internal/services"
	"docbatch/internal/textutil"
)

const (
	ReportFile   = "report.json"
	WorkbookFile = "results.xlsx"
	SummaryFile  = "summary.txt"
	ArchiveFile  = "bundle.zip"
	ItemsDir     = "items"
	DerivedDir   = "derived"
)

// BuildInput is everything Build needs. Results and Errors must already be
// deduplicated.
type BuildInput struct {
	Job        *jobstore.Job
	Results    []jobstore.Result
	Errors     []jobstore.ErrorRecord
	ExportDir  string
	DerivedDir string
	Logger     *slog.Logger
}

// Bundle describes the artifacts Build produced.
type Bundle struct {
	Dir          string
	ReportPath   string
	WorkbookPath string
	SummaryPath  string
	ArchivePath  string
	ItemFiles    int
	DerivedFiles int
	Stats        Stats
}

// Document is the structure serialized to report.json.
type Document struct {
	JobID       string                 `json:"job_id"`
	Name        string                 `json:"name"`
	SourceRoot  string                 `json:"source_root"`
	Mode        string                 `json:"mode"`
	CreatedAt   time.Time              `json:"created_at"`
	GeneratedAt time.Time              `json:"generated_at"`
	Stats       Stats                  `json:"stats"`
	Results     []jobstore.Result      `json:"results"`
	Errors      []jobstore.ErrorRecord `json:"errors"`
}

// Build writes the export artifacts for one job. All failures are wrapped
// with services.ErrAggregation.
func Build(ctx context.Context, in BuildInput) (Bundle, error) {
	if in.Job == nil || strings.TrimSpace(in.Job.ID) == "" {
		return Bundle{}, services.Wrap(services.ErrAggregation, "report", "build", "job is required", nil)
	}
	if strings.TrimSpace(in.ExportDir) == "" {
		return Bundle{}, services.Wrap(services.ErrAggregation, "report", "build", "export directory is required", nil)
	}
	logger := logging.NewComponentLogger(in.Logger, "report").With(logging.String(logging.FieldJobID, in.Job.ID))

	dir := filepath.Join(in.ExportDir, in.Job.ID)
	if err := os.MkdirAll(filepath.Join(dir, ItemsDir), 0o755); err != nil {
		return Bundle{}, services.Wrap(services.ErrAggregation, "report", "create export dir", dir, err)
	}

	stats := ComputeStats(in.Results, in.Errors)
	bundle := Bundle{
		Dir:          dir,
		ReportPath:   filepath.Join(dir, ReportFile),
		WorkbookPath: filepath.Join(dir, WorkbookFile),
		SummaryPath:  filepath.Join(dir, SummaryFile),
		ArchivePath:  filepath.Join(dir, ArchiveFile),
		Stats:        stats,
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"write report", func() error { return writeDocument(bundle.ReportPath, in, stats) }},
		{"write workbook", func() error { return writeWorkbook(bundle.WorkbookPath, in.Results, in.Errors) }},
		{"write summary", func() error { return writeSummary(bundle.SummaryPath, in.Job, stats, in.Errors) }},
		{"write items", func() error {
			n, err := writeItems(ctx, filepath.Join(dir, ItemsDir), in.Results)
			bundle.ItemFiles = n
			return err
		}},
		{"copy derived", func() error {
			n, err := copyDerived(ctx, in.DerivedDir, filepath.Join(dir, DerivedDir), logger)
			bundle.DerivedFiles = n
			return err
		}},
		{"write archive", func() error { return writeArchive(ctx, dir, bundle.ArchivePath) }},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Bundle{}, services.Wrap(services.ErrAggregation, "report", step.name, "cancelled", err)
		}
		if err := step.fn(); err != nil {
			return Bundle{}, services.Wrap(services.ErrAggregation, "report", step.name, "", err)
		}
	}

	logger.Info("report written",
		logging.String("dir", dir),
		logging.Int("succeeded", stats.Succeeded),
		logging.Int("failed", stats.Failed),
		logging.Int("item_files", bundle.ItemFiles),
		logging.Int("derived_files", bundle.DerivedFiles),
	)
	return bundle, nil
}

func writeDocument(path string, in BuildInput, stats Stats) error {
	doc := Document{
		JobID:       in.Job.ID,
		Name:        in.Job.Name,
		SourceRoot:  in.Job.SourceRoot,
		Mode:        string(in.Job.Mode),
		CreatedAt:   in.Job.CreatedAt,
		GeneratedAt: time.Now().UTC(),
		Stats:       stats,
		Results:     in.Results,
		Errors:      in.Errors,
	}
	if doc.Results == nil {
		doc.Results = []jobstore.Result{}
	}
	if doc.Errors == nil {
		doc.Errors = []jobstore.ErrorRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return fileutil.WriteAtomic(path, append(data, '\n'), 0o644)
}

// LoadDocument reads a report.json written by Build.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// ItemFileName maps an item id to its artifact name. Ids that sanitize to a
// name already in used get the first free numeric suffix.
func ItemFileName(id string, used map[string]int) string {
	base := textutil.SanitizeFileName(id)
	name := base
	for n := 2; used[name] > 0; n++ {
		name = fmt.Sprintf("%s-%d", base, n)
	}
	used[name]++
	return name + ".txt"
}

func writeItems(ctx context.Context, dir string, results []jobstore.Result) (int, error) {
	used := make(map[string]int, len(results))
	for i, r := range results {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return i, err
			}
		}
		path := filepath.Join(dir, ItemFileName(r.ItemID, used))
		if err := fileutil.WriteAtomic(path, []byte(itemArtifact(r)), 0o644); err != nil {
			return i, err
		}
	}
	return len(results), nil
}

func itemArtifact(r jobstore.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "item: %s\n", r.ItemID)
	fmt.Fprintf(&b, "confidence: %.3f\n", r.Confidence)
	if r.Provenance.Backend != "" {
		fmt.Fprintf(&b, "backend: %s\n", r.Provenance.Backend)
	}
	for _, k := range sortedKeys(r.Attributes) {
		fmt.Fprintf(&b, "%s: %s\n", k, r.Attributes[k])
	}
	b.WriteString("\n")
	b.WriteString(r.Content)
	if !strings.HasSuffix(r.Content, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func copyDerived(ctx context.Context, src, dst string, logger *slog.Logger) (int, error) {
	if strings.TrimSpace(src) == "" {
		return 0, nil
	}
	info, err := os.Stat(src)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("derived path %s is not a directory", src)
	}

	copied := 0
	err = filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := fileutil.CopyFileVerified(path, target); err != nil {
			return fmt.Errorf("copy derived %s: %w", rel, err)
		}
		copied++
		return nil
	})
	if err != nil {
		return copied, err
	}
	if copied > 0 {
		logger.Debug("merged derived artifacts", logging.Int("count", copied))
	}
	return copied, nil
}
