// Package load is the execution side of the replication engine. It consumes
// only the contractual fields of the configuration artifact, extracts rows
// per table according to the chosen strategy, and writes them to the target
// under the idempotency-preserving upsert invariant.
package load

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/errors"
)

// Result is the outcome of one table's load.
type Result struct {
	Table       string            `json:"table"`
	Strategy    contract.Strategy `json:"strategy"`
	UseUpsert   bool              `json:"use_upsert"`
	RowsWritten int64             `json:"rows_written"`
	Batches     int               `json:"batches"`
	Duration    time.Duration     `json:"-"`
	DurationSec float64           `json:"duration_seconds"`
	Error       string            `json:"error,omitempty"`
}

// RunSummary aggregates a load run across tables.
type RunSummary struct {
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	TablesOK    int       `json:"tables_ok"`
	TablesFail  int       `json:"tables_failed"`
	RowsWritten int64     `json:"rows_written"`
	Results     []Result  `json:"results"`
}

// Write serializes the summary as JSON for operators.
func (s *RunSummary) Write(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create summary directory")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to serialize run summary")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write run summary")
	}
	return nil
}

// ReadSummary loads the previous run's summary, if one exists.
func ReadSummary(path string) (*RunSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "no run summary found")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read run summary")
	}
	var s RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse run summary")
	}
	return &s, nil
}
