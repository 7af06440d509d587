package store

import "time"

// Status is one of the wire-stable job status values (spec §6).
type Status string

const (
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
	StatusFailedStart Status = "failed_start"
	StatusStopped     Status = "stopped"
)

// IsTerminal reports whether no further automatic transition leaves
// this status without an explicit run().
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusFailedStart, StatusStopped:
		return true
	default:
		return false
	}
}

// Record is one row of the process_status table: the persisted
// metadata for a single job (spec §3).
type Record struct {
	JobID      string
	Status     Status
	LastUpdate time.Time
	LastPID    int
	Command    string
	Cwd        string
	LogDir     string
	LogFile    string
}

// Filter is a partial Record used as an equality predicate. Zero
// fields are ignored; a zero-value Filter matches every record.
type Filter struct {
	JobID   *string
	Status  *Status
	Command *string
	Cwd     *string
	LogDir  *string
	LogFile *string
	LastPID *int
}

func (f Filter) matches(r Record) bool {
	if f.JobID != nil && *f.JobID != r.JobID {
		return false
	}
	if f.Status != nil && *f.Status != r.Status {
		return false
	}
	if f.Command != nil && *f.Command != r.Command {
		return false
	}
	if f.Cwd != nil && *f.Cwd != r.Cwd {
		return false
	}
	if f.LogDir != nil && *f.LogDir != r.LogDir {
		return false
	}
	if f.LogFile != nil && *f.LogFile != r.LogFile {
		return false
	}
	if f.LastPID != nil && *f.LastPID != r.LastPID {
		return false
	}
	return true
}

// knownFields is the fixed set of columns the schema accepts. Anything
// else arriving via RecordFromMap is silently dropped, matching spec
// §4.1's schema-validation rule.
var knownFields = map[string]bool{
	"job_id":      true,
	"status":      true,
	"last_update": true,
	"last_pid":    true,
	"command":     true,
	"cwd":         true,
	"logdir":      true,
	"logfile":     true,
}

// RecordFromMap builds a Record from a loosely-typed map, the shape a
// caller assembling a record from external input (YAML, JSON, a CLI
// flag set) would naturally produce. Unknown keys are dropped; a
// missing job_id or status is a validation error.
func RecordFromMap(m map[string]interface{}) (Record, error) {
	var r Record
	for k, v := range m {
		if !knownFields[k] {
			continue
		}
		switch k {
		case "job_id":
			r.JobID, _ = v.(string)
		case "status":
			if s, ok := v.(string); ok {
				r.Status = Status(s)
			}
		case "last_pid":
			switch n := v.(type) {
			case int:
				r.LastPID = n
			case int64:
				r.LastPID = int(n)
			case float64:
				r.LastPID = int(n)
			}
		case "command":
			r.Command, _ = v.(string)
		case "cwd":
			r.Cwd, _ = v.(string)
		case "logdir":
			r.LogDir, _ = v.(string)
		case "logfile":
			r.LogFile, _ = v.(string)
		case "last_update":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					r.LastUpdate = t
				}
			}
		}
	}
	if r.JobID == "" || r.Status == "" {
		return Record{}, ErrMissingRequiredFields
	}
	return r, nil
}
