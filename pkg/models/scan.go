package models

import (
	"time"
)

// JobStatus is the lifecycle state of a ScanJob
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFlagged    JobStatus = "flagged"
	StatusError      JobStatus = "error"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further processing happens in this state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFlagged, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Stage names a pipeline stage
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageQR         Stage = "qr"
	StageGrid       Stage = "grid"
	StageClassify   Stage = "classify"
	StageAggregate  Stage = "aggregate"
	StagePipeline   Stage = "pipeline"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StagePreprocess, StageQR, StageGrid, StageClassify, StageAggregate}

// Severity grades an Issue
type Severity string

const (
	// SeverityWarning is recorded as metadata only.
	SeverityWarning Severity = "warning"
	// SeverityFlag sends the job to manual review.
	SeverityFlag Severity = "flag"
	// SeverityFatal ends the job in the error state.
	SeverityFatal Severity = "fatal"
)

// Issue is one warning, review flag or fatal cause raised by a stage
type Issue struct {
	Stage     Stage    `json:"stage"`
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Measured  float64  `json:"measured,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
}

// ScanJob is one submitted sheet and its processing record
type ScanJob struct {
	ID                 string                  `json:"id"`
	Source             string                  `json:"source,omitempty"`
	Filename           string                  `json:"filename,omitempty"`
	Status             JobStatus               `json:"status"`
	Confidence         float64                 `json:"confidence"`
	Attempts           int                     `json:"attempts"`
	SubmittedAt        time.Time               `json:"submitted_at"`
	StartedAt          time.Time               `json:"started_at,omitempty"`
	FinishedAt         time.Time               `json:"finished_at,omitempty"`
	ProcessingDuration time.Duration           `json:"processing_duration"`
	StageTimings       map[Stage]time.Duration `json:"stage_timings,omitempty"`
	Warnings           []Issue                 `json:"warnings,omitempty"`
	Errors             []Issue                 `json:"errors,omitempty"`
	Result             *ScanResult             `json:"result,omitempty"`
}

// Flags returns the issues that sent the job to review
func (j ScanJob) Flags() []Issue {
	var flags []Issue
	for _, w := range j.Warnings {
		if w.Severity == SeverityFlag {
			flags = append(flags, w)
		}
	}
	return flags
}

// Clone returns a deep copy safe to hand across goroutines
func (j ScanJob) Clone() ScanJob {
	cp := j
	if j.StageTimings != nil {
		cp.StageTimings = make(map[Stage]time.Duration, len(j.StageTimings))
		for k, v := range j.StageTimings {
			cp.StageTimings[k] = v
		}
	}
	cp.Warnings = append([]Issue(nil), j.Warnings...)
	cp.Errors = append([]Issue(nil), j.Errors...)
	if j.Result != nil {
		r := j.Result.Clone()
		cp.Result = &r
	}
	return cp
}
