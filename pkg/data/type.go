package data

import (
	"encoding/json"
)

// Credentials identify one application to the backend. All three fields are
// attached to every outgoing call; the backend rejects calls missing any of
// them.
type Credentials struct {
	ApplicationId string
	Key           string
	Secret        string
}

const ProductionBranch = "production"

// WorkerFilter narrows which backend worker may run a submitted job. It is
// passed through on every job submission and never validated locally.
type WorkerFilter struct {
	Id      string `json:"id"`
	Name    string `json:"name"`
	Branch  string `json:"branch"`
	Dirty   bool   `json:"dirty"`
	Cluster string `json:"cluster"`
}

// DefaultWorkerFilter selects the production branch.
func DefaultWorkerFilter() *WorkerFilter {
	return &WorkerFilter{Branch: ProductionBranch}
}

// Map renders the filter for the rpc parameter bag.
func (f *WorkerFilter) Map() map[string]interface{} {
	return map[string]interface{}{
		"id":      f.Id,
		"name":    f.Name,
		"branch":  f.Branch,
		"dirty":   f.Dirty,
		"cluster": f.Cluster,
	}
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobRecord is one entry of a user's job history.
type JobRecord struct {
	JobId     string    `json:"job_id"`
	ServiceId string    `json:"service_id"`
	JobConfig string    `json:"job_config"`
	Status    JobStatus `json:"status"`
	Created   int64     `json:"created"`
}

// EventResult is the event name the worker infrastructure publishes on job
// completion.
const EventResult = "result"

// JobEvent is one message delivered on a job queue.
type JobEvent struct {
	Event   string          `json:"event"`
	JobId   string          `json:"job_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JobResult is the payload of a result event.
type JobResult struct {
	JobId  string          `json:"job_id"`
	Status JobStatus       `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DecodeOutput decodes a result output into a caller chosen type.
func DecodeOutput[T any](r JobResult) (T, error) {
	var v T
	err := json.Unmarshal(r.Output, &v)
	return v, err
}
