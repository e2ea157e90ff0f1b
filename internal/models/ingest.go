package models

import "time"

type IngestState string

const (
	StateReceived  IngestState = "received"
	StateValidated IngestState = "validated"
	StateChunked   IngestState = "chunked"
	StateEmbedding IngestState = "embedding"
	StateIndexed   IngestState = "indexed"
	StateFailed    IngestState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s IngestState) Terminal() bool {
	return s == StateIndexed || s == StateFailed
}

type OutcomeKind string

const (
	OutcomeEmbedded OutcomeKind = "embedded"
	OutcomeSkipped  OutcomeKind = "skipped"
)

// ChunkOutcome is the per-chunk result of the embedding stage.
type ChunkOutcome struct {
	Index    int         `json:"chunk_index"`
	Kind     OutcomeKind `json:"kind"`
	Attempts int         `json:"attempts"`
	Reason   string      `json:"reason,omitempty"`
}

type IngestReport struct {
	DocumentID string         `json:"document_id"`
	CourseID   string         `json:"course_id"`
	Filename   string         `json:"filename"`
	State      IngestState    `json:"state"`
	History    []IngestState  `json:"history"`
	Reason     string         `json:"reason,omitempty"`
	ChunkCount int            `json:"chunk_count"`
	Embedded   int            `json:"embedded"`
	Outcomes   []ChunkOutcome `json:"outcomes,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`

	err error
}

func NewIngestReport(doc Document) *IngestReport {
	return &IngestReport{
		DocumentID: doc.ID,
		CourseID:   doc.CourseID,
		Filename:   doc.Filename,
		State:      StateReceived,
		History:    []IngestState{StateReceived},
		StartedAt:  time.Now().UTC(),
	}
}

// Advance moves the report to the next state. Transitions out of a terminal
// state are ignored.
func (r *IngestReport) Advance(s IngestState) {
	if r.State.Terminal() {
		return
	}
	r.State = s
	r.History = append(r.History, s)
	if s.Terminal() {
		r.FinishedAt = time.Now().UTC()
	}
}

// Fail moves the report to StateFailed and records err as the reason.
func (r *IngestReport) Fail(err error) {
	if r.State.Terminal() {
		return
	}
	r.err = err
	r.Reason = err.Error()
	r.Advance(StateFailed)
}

// Err returns the failure cause, or nil when the report did not fail.
func (r *IngestReport) Err() error {
	return r.err
}

// Skipped returns the indices of chunks that were not embedded, ascending.
func (r *IngestReport) Skipped() []int {
	var out []int
	for _, o := range r.Outcomes {
		if o.Kind == OutcomeSkipped {
			out = append(out, o.Index)
		}
	}
	return out
}
