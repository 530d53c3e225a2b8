package types

import "strings"

// JobStatus is the tracked lifecycle of a submitted job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// OutputStream names one spool file of a job.
type OutputStream string

const (
	StreamJobLog   OutputStream = "JOBLOG"
	StreamSysout   OutputStream = "SYSOUT"
	StreamSysprint OutputStream = "SYSPRINT"
)

// Streams lists every output stream in display order.
var Streams = []OutputStream{StreamJobLog, StreamSysout, StreamSysprint}

// Valid reports whether s is a known stream.
func (s OutputStream) Valid() bool {
	for _, known := range Streams {
		if s == known {
			return true
		}
	}
	return false
}

// ParseJobStatus maps a host status string onto a JobStatus. Unknown
// values are reported with ok=false.
func ParseJobStatus(remote string) (JobStatus, bool) {
	s := strings.ToUpper(strings.TrimSpace(remote))
	switch {
	case s == "":
		return "", false
	case s == "INPUT" || s == "QUEUED" || s == "QUEUE":
		return JobQueued, true
	case s == "ACTIVE" || s == "RUNNING" || s == "EXECUTING":
		return JobRunning, true
	case strings.HasPrefix(s, "ABEND"), strings.Contains(s, "JCL ERROR"), s == "FAILED", s == "ERROR":
		return JobFailed, true
	case s == "OUTPUT" || s == "COMPLETED" || s == "DONE" || strings.HasPrefix(s, "CC "):
		return JobCompleted, true
	}
	switch JobStatus(strings.ToLower(s)) {
	case JobQueued, JobRunning, JobCompleted, JobFailed:
		return JobStatus(strings.ToLower(s)), true
	}
	return "", false
}
