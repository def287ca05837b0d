package policywatch

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Schedule re-reads the policy file on a cron schedule, for mounts where
// filesystem events do not arrive
type Schedule struct {
	cron     *cron.Cron
	reloader *Reloader
	spec     string
}

// NewSchedule parses a standard five-field cron spec
func NewSchedule(reloader *Reloader, spec string) (*Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("policy reload schedule %q: %w", spec, err)
	}
	s := &Schedule{cron: cron.New(), reloader: reloader, spec: spec}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		_, _ = reloader.Reload()
	}))
	return s, nil
}

// Start runs the scheduler in its own goroutine
func (s *Schedule) Start() {
	s.cron.Start()
	s.reloader.log.Info("policy reload scheduled", "spec", s.spec)
}

// Stop halts the scheduler and waits for a running reload to finish
func (s *Schedule) Stop() {
	<-s.cron.Stop().Done()
}
