package jobstore

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrorKind classifies an ErrorRecord.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
	ErrorKindCancelled ErrorKind = "cancelled"
)

// Provenance records how a result was produced.
type Provenance struct {
	Backend     string        `json:"backend,omitempty"`
	Worker      string        `json:"worker,omitempty"`
	Attempts    int           `json:"attempts"`
	Duration    time.Duration `json:"duration_ns"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Result is the successful extraction of one item. Appended once; immutable.
type Result struct {
	ItemID     string            `json:"item_id"`
	Content    string            `json:"content"`
	Confidence float64           `json:"confidence"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Provenance Provenance        `json:"provenance"`
}

// ErrorRecord is the final failure of one item.
type ErrorRecord struct {
	ItemID   string    `json:"item_id"`
	Reason   string    `json:"reason"`
	Kind     ErrorKind `json:"kind"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// Checkpoint is a durable snapshot of in-flight progress. It is replaced
// wholesale on every save.
type Checkpoint struct {
	ProcessedIDs      []string       `json:"processed_ids"`
	Results           []Result       `json:"results"`
	Errors            []ErrorRecord  `json:"errors"`
	ProcessedCount    int            `json:"processed_count"`
	RetryState        map[string]int `json:"retry_state,omitempty"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	Total             int            `json:"total"`
	SavedAt           time.Time      `json:"saved_at"`
}

// Saved returns the number of stored outcomes (results plus errors).
func (c Checkpoint) Saved() int {
	return len(c.Results) + len(c.Errors)
}

// Distinct counts settled items by id. An item with both a result and an
// error counts as succeeded, matching how finalization deduplicates.
func (c Checkpoint) Distinct() (succeeded, failed int) {
	seen := make(map[string]struct{}, len(c.Results)+len(c.Errors))
	for _, r := range c.Results {
		if _, dup := seen[r.ItemID]; !dup {
			seen[r.ItemID] = struct{}{}
			succeeded++
		}
	}
	for _, e := range c.Errors {
		if _, dup := seen[e.ItemID]; !dup {
			seen[e.ItemID] = struct{}{}
			failed++
		}
	}
	return succeeded, failed
}

// Validate checks the checkpoint's internal accounting. A total of zero
// skips the upper-bound check.
func (c Checkpoint) Validate(total int) error {
	if c.ProcessedCount < 0 || c.ConsecutiveErrors < 0 {
		return fmt.Errorf("checkpoint counters must not be negative")
	}
	if succeeded, failed := c.Distinct(); c.ProcessedCount != succeeded+failed {
		return fmt.Errorf("checkpoint processed_count %d does not match %d distinct items (%d results + %d errors)",
			c.ProcessedCount, succeeded+failed, len(c.Results), len(c.Errors))
	}
	if total > 0 && c.ProcessedCount > total {
		return fmt.Errorf("checkpoint processed_count %d exceeds job total %d", c.ProcessedCount, total)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate it freely.
func (c Checkpoint) Clone() Checkpoint {
	out := c
	out.ProcessedIDs = append([]string(nil), c.ProcessedIDs...)
	out.Results = make([]Result, len(c.Results))
	for i, r := range c.Results {
		r.Attributes = maps.Clone(r.Attributes)
		out.Results[i] = r
	}
	out.Errors = append([]ErrorRecord(nil), c.Errors...)
	out.RetryState = maps.Clone(c.RetryState)
	return out
}

// ProcessedSet returns the processed item ids as a lookup set.
func (c Checkpoint) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ProcessedIDs))
	for _, id := range c.ProcessedIDs {
		set[id] = struct{}{}
	}
	return set
}

// Outcome is one settled item reported by an out-of-process worker. Exactly
// one of Result or Error is set.
type Outcome struct {
	Result *Result
	Error  *ErrorRecord
}

func (o Outcome) itemID() string {
	if o.Result != nil {
		return o.Result.ItemID
	}
	if o.Error != nil {
		return o.Error.ItemID
	}
	return ""
}

// Validate checks that exactly one of Result or Error is set and names an item.
func (o Outcome) Validate() error {
	if (o.Result == nil) == (o.Error == nil) {
		return fmt.Errorf("outcome must carry exactly one of result or error")
	}
	if o.itemID() == "" {
		return fmt.Errorf("outcome item id is required")
	}
	return nil
}

// Apply appends the outcome. Redelivered outcomes stay in Results and Errors
// for the completion monitor to deduplicate, but ProcessedIDs and
// ProcessedCount only count each item once.
func (c *Checkpoint) Apply(o Outcome) {
	if o.Result != nil {
		c.Results = append(c.Results, *o.Result)
	} else {
		c.Errors = append(c.Errors, *o.Error)
	}
	if id := o.itemID(); !slices.Contains(c.ProcessedIDs, id) {
		c.ProcessedIDs = append(c.ProcessedIDs, id)
		c.ProcessedCount++
	}
	c.SavedAt = time.Now().UTC()
}

// EncodeCheckpoint serializes a checkpoint blob.
func EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// DecodeCheckpoint parses a checkpoint blob. Empty input yields an empty checkpoint.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if len(data) == 0 {
		return cp, nil
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// FinalResults is the persisted result set of a finalized job.
type FinalResults struct {
	Results []Result      `json:"results"`
	Errors  []ErrorRecord `json:"errors"`
}
