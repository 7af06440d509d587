// Package supervisor implements the Process Supervisor (spec §4.2): it
// turns a command string into a running child process with log
// redirection, keeps an in-memory registry of live handles, and runs a
// background reaper that discovers process exits and publishes
// terminal events.
//
// Grounded on the teacher's internal/joblet/core/process.Manager
// (LaunchProcess/CleanupProcess/isProcessAlive/graceful-then-forced
// shutdown) and pkg/platform (the OS operations abstraction), trimmed
// to the single-host, non-containerized surface this spec covers.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jobsupervisor/jobsupervisor/pkg/errors"
	"github.com/jobsupervisor/jobsupervisor/pkg/logger"
	"github.com/jobsupervisor/jobsupervisor/pkg/platform"
)

// ExitReason classifies why a reaper Event fired.
type ExitReason int

const (
	// ExitedZero: the process exited with status 0.
	ExitedZero ExitReason = iota
	// ExitedNonZero: the process exited with a non-zero status.
	ExitedNonZero
	// Vanished: the pid stopped being alive without an exit status
	// ever being collected (foreign kill, or an orphaned registry
	// entry left over from a supervisor restart).
	Vanished
)

// Event is published by the reaper whenever it observes a tracked
// process leave the registry. PID identifies which process the event
// describes, so a consumer that has since relaunched the same job_id
// under a new pid can recognize and discard a stale event.
type Event struct {
	JobID  string
	PID    int
	Reason ExitReason
}

// Handle describes a process known to the supervisor, either because
// this supervisor spawned it (Owned) or because it was reconstructed
// from a persisted pid via find (Foreign).
type Handle struct {
	JobID   string
	PID     int
	Command string
	Foreign bool
}

// RecordLookup is the minimal view the supervisor needs of the Record
// Store to reconstruct a handle for a job it did not spawn itself
// (spec §4.2's find() fallback path).
type RecordLookup interface {
	PidAndCommand(jobID string) (pid int, command string, ok bool)
}

// Config tunes the supervisor's timing. All fields have spec-compliant
// defaults via DefaultConfig.
type Config struct {
	ReaperInterval    time.Duration
	StopGracePeriod   time.Duration
	StopPollInterval  time.Duration
	StopPoliteRetries int
	Shell             string
	ShellFlag         string
}

func DefaultConfig() Config {
	return Config{
		ReaperInterval:    1500 * time.Millisecond,
		StopGracePeriod:   5 * time.Second,
		StopPollInterval:  100 * time.Millisecond,
		StopPoliteRetries: 2,
		Shell:             "/bin/sh",
		ShellFlag:         "-c",
	}
}

type entry struct {
	jobID   string
	pid     int
	command string
	cmd     platform.Command
	done    chan waitOutcome
}

type waitOutcome struct {
	exitedZero bool
	err        error
}

// Supervisor is the Process Supervisor.
type Supervisor struct {
	plat   platform.Platform
	lookup RecordLookup
	cfg    Config
	log    *logger.Logger

	mu       sync.Mutex
	registry map[string]*entry

	// lastReaped remembers the most recent exit reason the reaper
	// observed for a job_id, even after the registry entry is gone,
	// so a caller reconciling state concurrently with event delivery
	// (spec §4.3's get_status reconciliation) can learn whether a
	// zero exit was actually observed rather than guessing "failed".
	lastReaped map[string]ExitReason

	events chan Event

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// New constructs a Supervisor and starts its reaper goroutine. Close
// must be called to stop the reaper.
func New(plat platform.Platform, lookup RecordLookup, cfg Config) *Supervisor {
	s := &Supervisor{
		plat:       plat,
		lookup:     lookup,
		cfg:        cfg,
		log:        logger.New().WithComponent("supervisor"),
		registry:   make(map[string]*entry),
		lastReaped: make(map[string]ExitReason),
		events:     make(chan Event, 64),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	go s.reaperLoop()
	return s
}

// Events returns the channel of terminal transitions the reaper
// publishes. There is exactly one consumer expected: the Job Manager.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Close signals the reaper to stop and waits for it to exit. In-flight
// child processes are not killed (spec §4.2 Shutdown).
func (s *Supervisor) Close() {
	close(s.stopReaper)
	<-s.reaperDone
}

// Spawn launches command under the platform shell with stdout/stderr
// redirected to logdir/logfile.{stdout,stderr}, placing the child in
// its own session so a signal to -pid reaches its whole subprocess
// tree.
func (s *Supervisor) Spawn(jobID, command, cwd, logDir, logFile string, env []string) (Handle, error) {
	if jobID == "" {
		return Handle{}, errors.Validation("spawn", fmt.Errorf("job id cannot be empty"))
	}
	if command == "" {
		return Handle{}, errors.Validation("spawn", fmt.Errorf("command cannot be empty"))
	}

	if err := s.plat.MkdirAll(logDir, 0o755); err != nil {
		return Handle{}, errors.SpawnFailure("spawn", fmt.Errorf("create log dir: %w", err))
	}

	stdoutPath := filepath.Join(logDir, logFile+".stdout")
	stderrPath := filepath.Join(logDir, logFile+".stderr")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Handle{}, errors.SpawnFailure("spawn", fmt.Errorf("open stdout log: %w", err))
	}
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		stdoutFile.Close()
		return Handle{}, errors.SpawnFailure("spawn", fmt.Errorf("open stderr log: %w", err))
	}

	if cwd != "" {
		if _, statErr := s.plat.Stat(cwd); statErr != nil {
			stdoutFile.Close()
			stderrFile.Close()
			return Handle{}, errors.SpawnFailure("spawn", fmt.Errorf("working directory invalid: %w", statErr))
		}
	}

	cmd := s.plat.NewCommand(s.cfg.Shell, s.cfg.ShellFlag, command)
	if cwd != "" {
		cmd.SetDir(cwd)
	}
	if env != nil {
		cmd.SetEnv(env)
	}
	cmd.SetStdout(stdoutFile)
	cmd.SetStderr(stderrFile)
	cmd.SetNewProcessGroup()

	startErr := cmd.Start()
	// The parent's copies are only needed to hand the descriptors to
	// the child; once Start has dup'd them into the child, close ours.
	stdoutFile.Close()
	stderrFile.Close()

	if startErr != nil {
		return Handle{}, errors.SpawnFailure("spawn", startErr)
	}

	pid := cmd.Pid()
	e := &entry{
		jobID:   jobID,
		pid:     pid,
		command: command,
		cmd:     cmd,
		done:    make(chan waitOutcome, 1),
	}

	go func() {
		zero, waitErr := cmd.Wait()
		e.done <- waitOutcome{exitedZero: zero, err: waitErr}
	}()

	s.mu.Lock()
	s.registry[jobID] = e
	delete(s.lastReaped, jobID)
	s.mu.Unlock()

	s.log.Debug("spawned process", "jobID", jobID, "pid", pid)
	return Handle{JobID: jobID, PID: pid, Command: command}, nil
}

// Find returns the live handle for jobID: the registered handle if
// this supervisor owns one, otherwise a reconstructed read-only handle
// if the persisted pid is still alive and its command line still
// matches what was recorded (spec §9's pid-reuse guard).
func (s *Supervisor) Find(jobID string) (Handle, bool) {
	s.mu.Lock()
	e, ok := s.registry[jobID]
	s.mu.Unlock()
	if ok {
		return Handle{JobID: e.jobID, PID: e.pid, Command: e.command}, true
	}

	if s.lookup == nil {
		return Handle{}, false
	}
	pid, command, ok := s.lookup.PidAndCommand(jobID)
	if !ok || pid <= 0 {
		return Handle{}, false
	}
	if err := s.plat.Kill(pid, 0); err != nil {
		return Handle{}, false
	}
	cmdline, err := s.plat.CommandLine(pid)
	if err != nil {
		return Handle{}, false
	}
	if !strings.Contains(cmdline, command) {
		s.log.Warn("pid reuse detected, refusing stale handle", "jobID", jobID, "pid", pid)
		return Handle{}, false
	}
	return Handle{JobID: jobID, PID: pid, Command: command, Foreign: true}, true
}

// Stop locates jobID's handle and terminates its process group. It
// retries the polite signal (spec §9: shell wrappers sometimes swallow
// the first SIGTERM) before escalating to SIGKILL, and always returns
// "found" once a signal has actually been issued — the reaper is
// responsible for observing the eventual exit.
func (s *Supervisor) Stop(jobID string) (found bool, err error) {
	h, ok := s.Find(jobID)
	if !ok {
		return false, nil
	}

	attempts := 1 + s.cfg.StopPoliteRetries
	perAttempt := s.cfg.StopGracePeriod / time.Duration(attempts)
	if perAttempt < s.cfg.StopPollInterval {
		perAttempt = s.cfg.StopPollInterval
	}

	for i := 0; i < attempts; i++ {
		if sigErr := s.plat.Kill(-h.PID, syscall.SIGTERM); sigErr != nil && sigErr != syscall.ESRCH {
			s.log.Warn("failed to deliver SIGTERM", "jobID", jobID, "pid", h.PID, "error", sigErr)
		}
		if s.waitUntilDead(h.PID, perAttempt) {
			return true, nil
		}
	}

	if s.isAlive(h.PID) {
		s.log.Warn("escalating to SIGKILL", "jobID", jobID, "pid", h.PID)
		if sigErr := s.plat.Kill(-h.PID, syscall.SIGKILL); sigErr != nil && sigErr != syscall.ESRCH {
			s.log.Warn("failed to deliver SIGKILL", "jobID", jobID, "pid", h.PID, "error", sigErr)
		}
		s.waitUntilDead(h.PID, s.cfg.StopPollInterval*2)
	}

	return true, nil
}

func (s *Supervisor) waitUntilDead(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !s.isAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(s.cfg.StopPollInterval)
	}
}

func (s *Supervisor) isAlive(pid int) bool {
	err := s.plat.Kill(pid, 0)
	return err == nil
}

// LastReaped reports the exit reason most recently observed for
// jobID, if the reaper has reaped it since the last Spawn.
func (s *Supervisor) LastReaped(jobID string) (ExitReason, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.lastReaped[jobID]
	return reason, ok
}

// List returns every entry in the registry whose process the OS still
// reports as alive.
func (s *Supervisor) List() []Handle {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.registry))
	for _, e := range s.registry {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	result := make([]Handle, 0, len(entries))
	for _, e := range entries {
		if s.isAlive(e.pid) {
			result = append(result, Handle{JobID: e.jobID, PID: e.pid, Command: e.command})
		}
	}
	return result
}

func (s *Supervisor) reaperLoop() {
	defer close(s.reaperDone)
	ticker := time.NewTicker(s.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReaper:
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

// reapOnce snapshots the registry, then — without holding the registry
// lock across any OS call — checks each entry for a collected exit
// status or for having vanished without one, removing finished entries
// and publishing an Event for each.
func (s *Supervisor) reapOnce() {
	s.mu.Lock()
	snapshot := make([]*entry, 0, len(s.registry))
	for _, e := range s.registry {
		snapshot = append(snapshot, e)
	}
	s.mu.Unlock()

	for _, e := range snapshot {
		var reason ExitReason
		var exited bool

		select {
		case outcome := <-e.done:
			exited = true
			if outcome.err == nil && outcome.exitedZero {
				reason = ExitedZero
			} else {
				reason = ExitedNonZero
			}
		default:
			if !s.isAlive(e.pid) {
				exited = true
				reason = Vanished
			}
		}

		if !exited {
			continue
		}

		s.mu.Lock()
		if cur, ok := s.registry[e.jobID]; ok && cur == e {
			delete(s.registry, e.jobID)
			s.lastReaped[e.jobID] = reason
		}
		s.mu.Unlock()

		s.log.Debug("reaped process", "jobID", e.jobID, "pid", e.pid, "reason", reason)
		select {
		case s.events <- Event{JobID: e.jobID, PID: e.pid, Reason: reason}:
		default:
			s.log.Warn("event channel full, dropping terminal event", "jobID", e.jobID)
		}
	}
}
