package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"docbatch/internal/fileutil"
	"docbatch/internal/jobstore"
	"docbatch/internal/textutil"
)

const (
	resultsSheet   = "Results"
	errorsSheet    = "Errors"
	previewRunes   = 200
	defaultSheetID = "Sheet1"
)

func writeWorkbook(path string, results []jobstore.Result, errs []jobstore.ErrorRecord) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(defaultSheetID, resultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(errorsSheet); err != nil {
		return fmt.Errorf("create errors sheet: %w", err)
	}

	resultHeader := []any{"Item", "Confidence", "Characters", "Words", "Backend", "Worker", "Attempts", "Attributes", "Preview"}
	if err := f.SetSheetRow(resultsSheet, "A1", &resultHeader); err != nil {
		return err
	}
	for i, r := range results {
		row := []any{
			r.ItemID,
			r.Confidence,
			utf8.RuneCountInString(r.Content),
			textutil.WordCount(r.Content),
			r.Provenance.Backend,
			r.Provenance.Worker,
			r.Provenance.Attempts,
			formatAttributes(r.Attributes),
			preview(r.Content),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(resultsSheet, cell, &row); err != nil {
			return err
		}
	}

	errorHeader := []any{"Item", "Kind", "Attempts", "Reason", "Failed At"}
	if err := f.SetSheetRow(errorsSheet, "A1", &errorHeader); err != nil {
		return err
	}
	for i, e := range errs {
		row := []any{e.ItemID, string(e.Kind), e.Attempts, e.Reason, e.FailedAt.UTC().Format(time.RFC3339)}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(errorsSheet, cell, &row); err != nil {
			return err
		}
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 40)
	_ = f.SetColWidth(resultsSheet, "H", "H", 40)
	_ = f.SetColWidth(resultsSheet, "I", "I", 80)
	_ = f.SetColWidth(errorsSheet, "A", "A", 40)
	_ = f.SetColWidth(errorsSheet, "D", "D", 80)

	return fileutil.WriteAtomicFunc(path, 0o644, func(w io.Writer) error {
		return f.Write(w)
	})
}

func formatAttributes(attrs map[string]string) string {
	keys := sortedKeys(attrs)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, "; ")
}

func preview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	return string([]rune(content)[:previewRunes]) + "…"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
