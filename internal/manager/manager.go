// Package manager implements the Job Manager (spec §4.3): the façade
// that drives the job state machine by combining the Record Store and
// the Process Supervisor, and that consumes the supervisor's terminal
// events to keep the store in sync.
//
// Grounded on the teacher's internal/modes.RunServer wiring (owning
// the long-lived subsystems and their background goroutines) and its
// per-resource mutex pattern for serializing state transitions.
package manager

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	joberrors "github.com/jobsupervisor/jobsupervisor/pkg/errors"
	"github.com/jobsupervisor/jobsupervisor/pkg/logger"

	"github.com/jobsupervisor/jobsupervisor/internal/store"
	"github.com/jobsupervisor/jobsupervisor/internal/supervisor"
)

// Record is the caller-facing view of a job, re-exported from the
// Record Store so embedders never need to import internal/store.
type Record = store.Record

// Status re-exports the Record Store's status enum.
type Status = store.Status

const (
	StatusStarting    = store.StatusStarting
	StatusRunning     = store.StatusRunning
	StatusFinished    = store.StatusFinished
	StatusFailed      = store.StatusFailed
	StatusFailedStart = store.StatusFailedStart
	StatusStopped     = store.StatusStopped
)

// Filter re-exports the Record Store's filter type.
type Filter = store.Filter

// Store is the subset of internal/store.Store the Manager depends on.
type Store interface {
	Upsert(r store.Record) error
	Get(jobID string) (store.Record, error)
	List(filter store.Filter) ([]store.Record, error)
	Logs(jobID string) (stdout, stderr string, err error)
}

// Supervisor is the subset of internal/supervisor.Supervisor the
// Manager depends on.
type Supervisor interface {
	Spawn(jobID, command, cwd, logDir, logFile string, env []string) (supervisor.Handle, error)
	Find(jobID string) (supervisor.Handle, bool)
	Stop(jobID string) (bool, error)
	Events() <-chan supervisor.Event
	LastReaped(jobID string) (supervisor.ExitReason, bool)
}

// storeLookup adapts a Store to supervisor.RecordLookup so the
// Supervisor can reconstruct foreign handles without importing the
// store package itself.
type storeLookup struct{ s Store }

func (l storeLookup) PidAndCommand(jobID string) (int, string, bool) {
	r, err := l.s.Get(jobID)
	if err != nil {
		return 0, "", false
	}
	return r.LastPID, r.Command, true
}

// NewStoreLookup exposes storeLookup for callers wiring a Supervisor
// against a Store outside of Manager (e.g. the CLI's own bootstrap).
func NewStoreLookup(s Store) supervisor.RecordLookup { return storeLookup{s} }

// Manager is the Job Manager.
type Manager struct {
	store Store
	sup   Supervisor
	base  string
	log   *logger.Logger

	jobMu sync.Mutex
	locks map[string]*sync.Mutex

	stopEvents chan struct{}
	eventsDone chan struct{}
}

// New constructs a Manager over store and sup, rooted at baseDir for
// resolving each job's log directory, and starts consuming the
// Supervisor's terminal events.
func New(s Store, sup Supervisor, baseDir string) *Manager {
	m := &Manager{
		store:      s,
		sup:        sup,
		base:       baseDir,
		log:        logger.New().WithComponent("manager"),
		locks:      make(map[string]*sync.Mutex),
		stopEvents: make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
	go m.consumeEvents()
	return m
}

// Close stops the event-consumption goroutine. It does not touch the
// underlying Store or Supervisor.
func (m *Manager) Close() {
	close(m.stopEvents)
	<-m.eventsDone
}

func (m *Manager) lockFor(jobID string) *sync.Mutex {
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	l, ok := m.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[jobID] = l
	}
	return l
}

func (m *Manager) logPaths(jobID string) (logDir, logFile string) {
	return filepath.Join(m.base, "logs"), "job_" + jobID
}

// Run resolves the job's log paths, stops the prior process for jobID
// if this Supervisor still has it registered, spawns the new one, and
// persists the resulting state. The starting record (last_pid 0) is
// written before that check, so a prior process known only from the
// store is not found and is not stopped.
func (m *Manager) Run(command, jobID, cwd string) (Record, error) {
	if jobID == "" {
		return Record{}, joberrors.Validation("run", joberrors.ErrEmptyJobID)
	}
	if command == "" {
		return Record{}, joberrors.Validation("run", joberrors.ErrEmptyCommand)
	}

	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	logDir, logFile := m.logPaths(jobID)

	starting := Record{
		JobID:   jobID,
		Status:  StatusStarting,
		Command: command,
		Cwd:     cwd,
		LogDir:  logDir,
		LogFile: logFile,
		LastPID: 0,
	}
	if err := m.store.Upsert(starting); err != nil {
		return Record{}, err
	}

	if _, alive := m.sup.Find(jobID); alive {
		if _, err := m.sup.Stop(jobID); err != nil {
			m.log.Warn("failed to stop prior process before relaunch", "jobID", jobID, "error", err)
		}
		m.waitForExit(jobID)
	}

	h, err := m.sup.Spawn(jobID, command, cwd, logDir, logFile, nil)
	if err != nil {
		failed := starting
		failed.Status = StatusFailedStart
		if upsertErr := m.store.Upsert(failed); upsertErr != nil {
			m.log.Error("failed to persist failed_start", "jobID", jobID, "error", upsertErr)
		}
		return failed, nil
	}

	running := starting
	running.Status = StatusRunning
	running.LastPID = h.PID
	if err := m.store.Upsert(running); err != nil {
		return Record{}, err
	}
	return running, nil
}

// waitForExit blocks, without holding the per-job mutex beyond what
// the caller already holds, until the Supervisor no longer reports a
// live handle for jobID. It exists solely for run()'s "stop then wait
// for the reaper" step. It gives up after 200 polls 5ms apart (about
// one second) and then returns even if the handle is still reported
// live.
func (m *Manager) waitForExit(jobID string) {
	for i := 0; i < 200; i++ {
		if _, alive := m.sup.Find(jobID); !alive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Stop locates jobID's record, asks the Supervisor to terminate its
// process, and persists "stopped" — overriding any reaper write that
// might race it, because both go through the same per-job lock. Stop
// is idempotent on already-terminal records.
func (m *Manager) Stop(jobID string) (*Record, error) {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.Get(jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	if r.Status.IsTerminal() {
		return &r, nil
	}

	if _, err := m.sup.Stop(jobID); err != nil {
		return nil, joberrors.SignalFailure("stop", err)
	}

	r.Status = StatusStopped
	if err := m.store.Upsert(r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetStatus reads jobID's record and, if it's non-terminal, reconciles
// it against the Supervisor's view of the pid before returning.
func (m *Manager) GetStatus(jobID string) (Record, error) {
	lock := m.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.Get(jobID)
	if err != nil {
		return Record{}, err
	}

	if r.Status.IsTerminal() {
		return r, nil
	}

	if _, alive := m.sup.Find(jobID); alive {
		return r, nil
	}

	// The supervisor no longer sees this pid as live but the store
	// still shows a non-terminal status: either the reaper hasn't
	// caught up yet, or it raced with something else. If the reaper
	// already observed a zero exit for this pid, honor that instead of
	// defaulting to failed.
	r.Status = StatusFailed
	if reason, ok := m.sup.LastReaped(jobID); ok && reason == supervisor.ExitedZero {
		r.Status = StatusFinished
	}
	if err := m.store.Upsert(r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ListStatus delegates to the Store without reconciliation.
func (m *Manager) ListStatus(filter Filter) (map[string]Record, error) {
	records, err := m.store.List(filter)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(records))
	for _, r := range records {
		out[r.JobID] = r
	}
	return out, nil
}

// JobLogs delegates to the Store.
func (m *Manager) JobLogs(jobID string) (stdout, stderr string, err error) {
	return m.store.Logs(jobID)
}

func (m *Manager) consumeEvents() {
	defer close(m.eventsDone)
	for {
		select {
		case <-m.stopEvents:
			return
		case ev, ok := <-m.sup.Events():
			if !ok {
				return
			}
			m.handleEvent(ev)
		}
	}
}

func (m *Manager) handleEvent(ev supervisor.Event) {
	lock := m.lockFor(ev.JobID)
	lock.Lock()
	defer lock.Unlock()

	r, err := m.store.Get(ev.JobID)
	if err != nil {
		m.log.Warn("reaper event for unknown job", "jobID", ev.JobID, "error", err)
		return
	}

	// stop() already moved this record to a terminal state under the
	// same per-job lock; a reaper event racing behind it must not
	// overwrite that decision.
	if r.Status == StatusStopped {
		return
	}

	// A relaunch (run() on a still-live job_id) replaces last_pid
	// before this event is processed; an event describing the process
	// that relaunch just replaced must not be applied to the new one.
	if r.LastPID != ev.PID {
		m.log.Debug("ignoring stale reaper event", "jobID", ev.JobID, "eventPID", ev.PID, "currentPID", r.LastPID)
		return
	}

	switch ev.Reason {
	case supervisor.ExitedZero:
		r.Status = StatusFinished
	case supervisor.ExitedNonZero, supervisor.Vanished:
		r.Status = StatusFailed
	default:
		m.log.Error("unknown reaper exit reason", "jobID", ev.JobID, "reason", fmt.Sprint(ev.Reason))
		return
	}

	if err := m.store.Upsert(r); err != nil {
		m.log.Error("failed to persist reaper transition", "jobID", ev.JobID, "error", err)
	}
}
