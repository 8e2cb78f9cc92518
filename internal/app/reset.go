package app

import (
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"studynotify/internal/config"
	"studynotify/pkg/logx"
)

// statsResetter clears the stats snapshot on a cron schedule.
type statsResetter struct {
	reset func()
	log   logx.Logger

	mu   sync.Mutex
	c    *cron.Cron
	spec string
	tz   string
}

func newStatsResetter(reset func(), log logx.Logger) *statsResetter {
	return &statsResetter{reset: reset, log: log}
}

// Apply (re)schedules the reset. An empty spec disables it.
func (r *statsResetter) Apply(spec, tz string) error {
	spec, tz = strings.TrimSpace(spec), strings.TrimSpace(tz)

	r.mu.Lock()
	defer r.mu.Unlock()
	if spec == r.spec && tz == r.tz && (r.c != nil) == (spec != "") {
		return nil
	}
	if r.c != nil {
		r.c.Stop()
		r.c = nil
	}
	r.spec, r.tz = spec, tz
	if spec == "" {
		return nil
	}

	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return err
		}
		loc = l
	}
	c := cron.New(cron.WithParser(config.ScheduleParser), cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, r.run); err != nil {
		return err
	}
	c.Start()
	r.c = c
	r.log.Info("stats reset scheduled", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (r *statsResetter) run() {
	r.reset()
	r.log.Info("stats reset by schedule")
}

func (r *statsResetter) Stop() {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.spec, r.tz = "", ""
	r.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
