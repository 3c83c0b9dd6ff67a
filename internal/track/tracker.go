// Package track records training runs as JSON Lines files, one file per
// run, keyed by a generated run ID.
package track

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Run is an open run log. Every record is one JSON object on its own
// line with a "type" field.
type Run struct {
	id   string
	name string
	file *os.File
	enc  *json.Encoder
}

type runRecord struct {
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Name    string         `json:"name,omitempty"`
	Started time.Time      `json:"started"`
	Config  map[string]any `json:"config,omitempty"`
}

type epochRecord struct {
	Type        string  `json:"type"`
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}

type summaryRecord struct {
	Type  string  `json:"type"`
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Start opens a new run log under dir. The file is named after the run
// ID, so concurrent runs in the same directory never collide.
func Start(dir, name string, config map[string]any) (*Run, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	id := uuid.NewString()
	file, err := os.Create(filepath.Join(dir, id+".jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to create run log: %w", err)
	}

	r := &Run{
		id:   id,
		name: name,
		file: file,
		enc:  json.NewEncoder(file),
	}
	if err := r.enc.Encode(runRecord{
		Type:    "run",
		ID:      id,
		Name:    name,
		Started: time.Now().UTC(),
		Config:  config,
	}); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to write run record: %w", err)
	}
	return r, nil
}

// ID returns the generated run identifier.
func (r *Run) ID() string {
	return r.id
}

// LogEpoch appends one epoch record.
func (r *Run) LogEpoch(epoch int, loss, valAccuracy float64) {
	_ = r.enc.Encode(epochRecord{
		Type:        "epoch",
		Epoch:       epoch,
		Loss:        loss,
		ValAccuracy: valAccuracy,
	})
}

// Summary appends one summary record.
func (r *Run) Summary(key string, value float64) {
	_ = r.enc.Encode(summaryRecord{
		Type:  "summary",
		Key:   key,
		Value: value,
	})
}

// Close flushes and closes the run log.
func (r *Run) Close() error {
	return r.file.Close()
}
