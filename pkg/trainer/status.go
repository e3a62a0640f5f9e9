package trainer

import (
	"sync"
	"time"
)

// Phase is the coarse trainer state.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseRunning       Phase = "running"
	PhaseEpochBoundary Phase = "epoch_boundary"
	PhaseEvaluating    Phase = "evaluating"
	PhaseDone          Phase = "done"
	PhaseFailed        Phase = "failed"
)

// Status is a point-in-time snapshot of a run, safe to serve while the run
// progresses.
type Status struct {
	RunID        string       `json:"run_id,omitempty"`
	Phase        Phase        `json:"phase"`
	Epoch        int          `json:"epoch"`
	MaxEpoch     int          `json:"max_epoch"`
	Cursor       int          `json:"cursor"`
	DatasetSize  int          `json:"dataset_size"`
	GlobalStep   int          `json:"global_step"`
	LearningRate float64      `json:"learning_rate"`
	StartedAt    time.Time    `json:"started_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastEpoch    *EpochResult `json:"last_epoch,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// statusBox guards the published snapshot. Only the run goroutine writes.
type statusBox struct {
	mu sync.RWMutex
	s  Status
}

func (b *statusBox) update(fn func(*Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
	b.s.UpdatedAt = time.Now().UTC()
}

func (b *statusBox) get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.s
	if s.LastEpoch != nil {
		e := *s.LastEpoch
		s.LastEpoch = &e
	}
	return s
}
