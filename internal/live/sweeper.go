package live

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Run periodically sweeps the live records: buses that have sat in arrived
// for longer than the configured timeout are demoted to stopped, and buses
// whose feed has gone quiet are reclassified idle. This is the only status
// change not driven by an inbound report.
func (s *Store) Run(ctx context.Context) {
	log.Info().Dur("interval", s.cfg.SweepInterval).Msg("starting live record sweeper")

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now().UTC())
		case <-ctx.Done():
			log.Info().Msg("live record sweeper shutting down")
			return
		}
	}
}

// Sweep applies the time-based demotions once. Split from Run for tests.
func (s *Store) Sweep(now time.Time) {
	s.mu.RLock()
	entries := make(map[string]*entry, len(s.buses))
	for id, e := range s.buses {
		entries[id] = e
	}
	s.mu.RUnlock()

	for busID, e := range entries {
		e.mu.Lock()
		switch {
		case e.rec.Status == StatusArrived && e.rec.ArrivedAt != nil &&
			now.Sub(*e.rec.ArrivedAt) >= s.cfg.ArrivedTimeout:
			e.rec.Status = StatusStopped
			e.rec.ArrivedAt = nil
			log.Info().Str("bus", busID).Msg("demoting long-arrived bus to stopped")
		case e.rec.Status != StatusIdle && e.rec.BusID != "" &&
			now.Sub(e.rec.LastUpdateAt) > s.cfg.Staleness:
			e.rec.Status = StatusIdle
			e.rec.ArrivedAt = nil
			log.Debug().Str("bus", busID).Msg("marking silent bus idle")
		}
		e.mu.Unlock()
	}
}
