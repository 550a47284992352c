// Package batch runs detection sequentially over a selection of images.
package batch

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-detect/inference"
)

// State is the lifecycle state of a batch.
type State int

const (
	// Idle means there is no selection.
	Idle State = iota
	// Ready means a non-empty selection is committed and not running.
	Ready
	// Running means the worker is processing items.
	Running
	// Paused means the worker is holding between items.
	Paused
	// Completed means every item of the last run was processed.
	Completed
	// Cancelled means the last run was cancelled before completing.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether a run is in progress.
func (s State) Active() bool { return s == Running || s == Paused }

// Phase is where an item is in its processing.
type Phase int

// Item phases.
const (
	PhaseReady Phase = iota
	PhaseLoading
	PhaseRunning
	PhaseFailed
	PhaseDone
)

// Status is the human readable outcome of an item.
type Status struct {
	Phase  Phase
	Reason string
	Count  int
}

func (s Status) String() string {
	switch s.Phase {
	case PhaseLoading:
		return "loading"
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed: " + s.Reason
	case PhaseDone:
		if s.Count == 1 {
			return "done: 1 object"
		}
		return fmt.Sprintf("done: %d objects", s.Count)
	default:
		return "ready"
	}
}

// Progress is the position of the current run.
type Progress struct {
	State State
	// Current is the 1-based index of the item being processed, 0 before the
	// first item is dequeued.
	Current   int
	Completed int
	Total     int
	// Token identifies the current run.
	Token uuid.UUID
}

// Item is a copy of one item's batch record.
type Item struct {
	ID         uuid.UUID
	Ref        string
	Detections []inference.Detection
	Status     Status
}

// Snapshot is delivered to observers after every change.
type Snapshot struct {
	Progress Progress
	Items    []Item
}
