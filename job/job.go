package job

import "time"

// Status represents the lifecycle state of a job. The store only interprets
// StatusReady and StatusProcessing; other values are owned by the engine.
type Status string

const (
	// StatusReady means the job is waiting to be reserved by a worker.
	StatusReady Status = "ready"
	// StatusProcessing means a worker holds the job.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not be reserved again.
	StatusFailed Status = "failed"
)

// Domain field names. Stored documents use the same names except for the
// identity, which the store keeps under its primary-key field.
const (
	FieldID       = "id"
	FieldStatus   = "status"
	FieldWorkerID = "workerId"
	FieldAttempts = "attempts"
	FieldExpires  = "expires"
	FieldExpireMs = "expireMs"
	FieldStalls   = "stalls"
	FieldStallMs  = "stallMs"
)

// ReservedField is the store's primary-key name. The id is always written
// there from FieldID, so no Data key or update may use it.
const ReservedField = "_id"

// Job is the persisted unit of work.
type Job struct {
	ID       string `json:"id"                 bson:"id"`
	Status   Status `json:"status"             bson:"status"`
	WorkerID string `json:"workerId,omitempty" bson:"workerId,omitempty"`
	Attempts int    `json:"attempts"           bson:"attempts"`

	// Expires is the overall timeout deadline while processing.
	Expires  time.Time `json:"expires,omitzero"   bson:"expires,omitempty"`
	ExpireMs int64     `json:"expireMs,omitempty" bson:"expireMs,omitempty"`

	// Stalls is the heartbeat deadline while processing.
	Stalls  time.Time `json:"stalls,omitzero"   bson:"stalls,omitempty"`
	StallMs int64     `json:"stallMs,omitempty" bson:"stallMs,omitempty"`

	// Data carries every other field verbatim.
	Data map[string]any `json:"data,omitempty" bson:",inline"`
}

// ExpireAfter returns ExpireMs as a duration.
func (j *Job) ExpireAfter() time.Duration {
	return time.Duration(j.ExpireMs) * time.Millisecond
}

// StallAfter returns StallMs as a duration.
func (j *Job) StallAfter() time.Duration {
	return time.Duration(j.StallMs) * time.Millisecond
}

// Validate rejects Data keys that would collide with the stored identity.
func (j *Job) Validate() error {
	if _, ok := j.Data[ReservedField]; ok {
		return reservedFieldError()
	}
	return nil
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Data != nil {
		cp.Data = make(map[string]any, len(j.Data))
		for k, v := range j.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}
