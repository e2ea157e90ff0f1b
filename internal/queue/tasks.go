package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeDocumentIngest = "document:ingest"
)

// IngestTimeout bounds one run of an ingestion task.
const IngestTimeout = 10 * time.Minute

// IngestPayload names a stored upload to run through the pipeline.
type IngestPayload struct {
	CourseID string `json:"course_id"`
	Filename string `json:"filename"`
}

// ParseIngestPayload decodes the payload of a TypeDocumentIngest task.
func ParseIngestPayload(t *asynq.Task) (IngestPayload, error) {
	var p IngestPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.CourseID == "" || p.Filename == "" {
		return p, fmt.Errorf("incomplete payload for %s", t.Type())
	}
	return p, nil
}
