// Package jobs tracks ingestion runs and persists them across restarts.
package jobs

import (
	"errors"
	"time"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// InterruptedMessage is recorded on jobs that were running when the
// process stopped.
const InterruptedMessage = "interrupted"

// Kind is the ingestion path a job runs.
type Kind string

const (
	KindRepository Kind = "repository"
	KindForum      Kind = "forum"
)

// Trigger records what started a job.
type Trigger string

const (
	TriggerAPI     Trigger = "api"
	TriggerStartup Trigger = "startup"
	TriggerCLI     Trigger = "cli"
)

// Job is one tracked ingestion run.
type Job struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	Collection string       `json:"collection"`
	Source     string       `json:"source"`
	Branch     string       `json:"branch,omitempty"`
	State      types.State  `json:"state"`
	Message    string       `json:"message,omitempty"`
	Stats      *types.Stats `json:"stats,omitempty"`
	Trigger    Trigger      `json:"trigger"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Spec describes a job to create.
type Spec struct {
	Kind       Kind
	Collection string
	Source     string
	Branch     string
	Trigger    Trigger
}
