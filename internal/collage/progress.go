package collage

import "time"

// Stage names a phase of a collage job.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageLoading      Stage = "loading"
	StageTiling       Stage = "tiling"
	StageMatching     Stage = "matching"
	StageReassembling Stage = "reassembling"
	StageSaving       Stage = "saving"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Progress milestones, in percent.
const (
	pctLoadingStart = 5
	pctLoadingSpan  = 25
	pctTiling       = 35
	pctMatching     = 40
	pctReassembling = 80
	pctSaving       = 90
	PctCompleted    = 100
)

// Progress is a single progress event for a job.
type Progress struct {
	JobID   string    `json:"job_id"`
	Percent int       `json:"percent"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

type reporter struct {
	jobID string
	ch    chan<- Progress
	now   func() time.Time
}

// emit never blocks; events are dropped when the consumer lags behind.
func (r reporter) emit(pct int, stage Stage, msg string) {
	if r.ch == nil {
		return
	}
	select {
	case r.ch <- Progress{JobID: r.jobID, Percent: pct, Stage: stage, Message: msg, At: r.now()}:
	default:
	}
}
