package service

import (
	"context"
)

// dispatchDaemon periodically starts due tasks, it picks up tasks that were
// deferred because every slot was taken.
func (s *Service) dispatchDaemon(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.dispatchInterval):
		}
		s.dispatch()
	}
}

func (s *Service) dispatch() {
	for _, id := range s.manager.Due(s.clock.Now()) {
		started, err := s.manager.Start(id)
		if err != nil {
			// lost a race with a cancel or the scheduled timer
			s.tel.ReportDebug("dispatch skipped", id, err)
			continue
		}
		if !started {
			// at capacity, the rest stay queued for the next tick
			return
		}
		s.tel.ReportDebug("dispatched deferred task", id)
	}
}
