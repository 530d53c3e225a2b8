package job

import (
	"time"

	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// Job is a point-in-time view of a job.
type Job struct {
	ID           string                        `json:"jobId"`
	Name         string                        `json:"jobName"`
	Ref          types.ResourceRef             `json:"ref"`
	SubmittedAt  time.Time                     `json:"submittedAt"`
	Status       types.JobStatus               `json:"status"`
	RemoteStatus string                        `json:"remoteStatus,omitempty"`
	UpdatedAt    time.Time                     `json:"updatedAt"`
	Outputs      map[types.OutputStream]string `json:"-"`
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	return j.Status == types.JobCompleted || j.Status == types.JobFailed
}

func (j *job) snapshot() Job {
	outputs := make(map[types.OutputStream]string, len(j.outputs))
	for k, v := range j.outputs {
		outputs[k] = v
	}
	return Job{
		ID:           j.id,
		Name:         j.name,
		Ref:          j.ref,
		SubmittedAt:  j.submittedAt,
		Status:       j.status,
		RemoteStatus: j.remoteStatus,
		UpdatedAt:    j.updatedAt,
		Outputs:      outputs,
	}
}
