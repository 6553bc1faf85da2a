package jobstore

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, name, status, mode, source_root, recursive, concurrency, max_retries, total, processed, succeeded, failed, dispatched_count, acknowledged_count, dispatch_generation, current_item, error_message, export_dir, created_at, updated_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		statusStr    string
		modeStr      string
		recursive    int64
		currentItem  sql.NullString
		errorMessage sql.NullString
		exportDir    sql.NullString
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&job.ID,
		&job.Name,
		&statusStr,
		&modeStr,
		&job.SourceRoot,
		&recursive,
		&job.Concurrency,
		&job.MaxRetries,
		&job.Total,
		&job.Processed,
		&job.Succeeded,
		&job.Failed,
		&job.DispatchedCount,
		&job.AcknowledgedCount,
		&job.DispatchGeneration,
		&currentItem,
		&errorMessage,
		&exportDir,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = Status(statusStr)
	job.Mode = Mode(modeStr)
	job.Recursive = recursive != 0
	job.CurrentItem = currentItem.String
	job.ErrorMessage = errorMessage.String
	job.ExportDir = exportDir.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func nowString() string {
	return time.Now().UTC().Format(timestampLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
