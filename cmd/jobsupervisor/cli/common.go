// Package cli is the cobra-based command line front end for the job
// supervisor library. It is a demonstration embedding host, not part
// of the library's contract: everything here goes through the same
// internal/manager.Manager API an embedder would use directly.
//
// Grounded on the teacher's internal/rnx/cli package layout — a root
// command with persistent flags, one file per subcommand, and a
// package-level helper that loads configuration before dispatch.
package cli

import (
	"fmt"

	"github.com/jobsupervisor/jobsupervisor/internal/manager"
	"github.com/jobsupervisor/jobsupervisor/internal/store"
	"github.com/jobsupervisor/jobsupervisor/internal/supervisor"
	"github.com/jobsupervisor/jobsupervisor/pkg/config"
	"github.com/jobsupervisor/jobsupervisor/pkg/logger"
	"github.com/jobsupervisor/jobsupervisor/pkg/platform"
)

var configPath string

// session bundles the long-lived pieces a single CLI invocation needs
// and must close before exiting.
type session struct {
	store *store.Store
	sup   *supervisor.Supervisor
	mgr   *manager.Manager
}

func (s *session) Close() {
	s.mgr.Close()
	s.sup.Close()
	s.store.Close()
}

func openSession() (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetGlobalLevel(level)

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	supCfg := supervisor.DefaultConfig()
	supCfg.ReaperInterval = cfg.ReaperInterval
	supCfg.StopGracePeriod = cfg.StopGracePeriod
	supCfg.StopPollInterval = cfg.StopPollInterval
	supCfg.StopPoliteRetries = cfg.StopPoliteRetries

	sup := supervisor.New(platform.New(), manager.NewStoreLookup(st), supCfg)
	mgr := manager.New(st, sup, cfg.BaseDir)

	return &session{store: st, sup: sup, mgr: mgr}, nil
}
