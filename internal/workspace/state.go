package workspace

import (
	"time"

	"github.com/GriffinCanCode/zcraft/internal/domain/buffer"
	"github.com/GriffinCanCode/zcraft/internal/domain/job"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
	"github.com/GriffinCanCode/zcraft/internal/shared/utils"
)

// State is the JSON view served at /state. It never carries secrets or
// member content.
type State struct {
	Connected bool               `json:"connected"`
	Host      string             `json:"host,omitempty"`
	Username  string             `json:"username,omitempty"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
	Breaker   string             `json:"breaker"`
	Buffers   []buffer.Buffer    `json:"buffers"`
	Jobs      []job.Job          `json:"jobs"`
	Threads   map[types.Mode]int `json:"threads"`
	Pending   []PendingWrite     `json:"pending"`
}

// PendingWrite is a member with edits not yet written back.
type PendingWrite struct {
	Ref         string `json:"ref"`
	Fingerprint string `json:"fingerprint"`
}

// State collects a consistent-enough snapshot of every component.
func (w *Workspace) State() State {
	st := State{
		Breaker: w.backend.BreakerState().String(),
		Buffers: w.buffers.List(),
		Jobs:    w.jobs.Jobs(),
		Threads: w.assistant.Lengths(),
		Pending: []PendingWrite{},
	}
	if s, ok := w.session.Snapshot(); ok {
		st.Connected = true
		st.Host = s.Credentials.Host
		st.Username = s.Credentials.Username
		if !s.ExpiresAt.IsZero() {
			exp := s.ExpiresAt
			st.ExpiresAt = &exp
		}
	}

	hasher := utils.DefaultHasher()
	for _, ref := range w.resources.Dirty() {
		m, ok := w.resources.Member(ref)
		if !ok {
			continue
		}
		st.Pending = append(st.Pending, PendingWrite{Ref: ref.String(), Fingerprint: hasher.Fingerprint(m.Content)})
	}
	return st
}

// Snapshot implements monitoring.StateProvider.
func (w *Workspace) Snapshot() any {
	return w.State()
}
