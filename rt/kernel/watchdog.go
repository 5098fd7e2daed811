package kernel

import (
	"context"
	"time"

	"github.com/evan-idocoding/zrtos/rt/safego"
)

func (s *Sim) runWatchdog() {
	defer close(s.wdDone)

	period := s.cfg.watchdog / 4
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.wdStop:
			return
		case now := <-ticker.C:
			s.checkWatchdog(now)
		}
	}
}

func (s *Sim) checkWatchdog(now time.Time) {
	s.mu.Lock()
	tasks := make([]*tcb, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		last := t.lastYield.Load()
		if last == 0 || t.blocked.Load() || t.tripped.Load() {
			continue
		}
		stalled := now.Sub(time.Unix(0, last))
		if stalled <= s.cfg.watchdog {
			continue
		}
		if !t.tripped.CompareAndSwap(false, true) {
			continue
		}
		ev := WatchdogEvent{
			Handle:  t.handle,
			Name:    t.name,
			Stalled: stalled,
			Trips:   t.wdTrips.Add(1),
		}
		s.trips.Add(1)
		if s.wdLimiter.Allow() {
			s.log.Warn("task watchdog triggered",
				"task", ev.Name,
				"handle", ev.Handle,
				"stalled", ev.Stalled,
				"trips", ev.Trips,
			)
		}
		if s.cfg.onWatchdog != nil {
			s.callWatchdogHandler(ev)
		}
	}
}

func (s *Sim) callWatchdogHandler(ev WatchdogEvent) {
	safego.Run(context.Background(), func(context.Context) { s.cfg.onWatchdog(ev) },
		safego.WithName("watchdog-handler"),
		safego.WithTag("task", ev.Name),
		safego.WithLogger(s.log),
	)
}
