package main

import (
	"context"
	"time"

	"github.com/matst80/matchbox/internal/broker"
	"github.com/matst80/matchbox/internal/obs"
	"github.com/matst80/matchbox/internal/ratelimit"
	"github.com/matst80/matchbox/internal/session"
	"github.com/matst80/matchbox/internal/transport"
)

// stateDoc is the full broker state for dashboards & the state API.
type stateDoc struct {
	Connections int            `json:"connections"`
	Stats       session.Stats  `json:"stats"`
	Sessions    []session.View `json:"sessions"`
	Now         string         `json:"now"`
}

func collectState(ctx context.Context, b *broker.Broker, reg *transport.Registry) (stateDoc, error) {
	views, err := b.Snapshot(ctx)
	if err != nil {
		return stateDoc{}, err
	}
	st, err := b.Stats(ctx)
	if err != nil {
		return stateDoc{}, err
	}
	return stateDoc{
		Connections: reg.Len(),
		Stats:       st,
		Sessions:    views,
		Now:         time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// toTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (d stateDoc) toTemplateMap() map[string]any {
	return map[string]any{
		"Connections": d.Connections,
		"Stats":       d.Stats,
		"Sessions":    d.Sessions,
	}
}

// statsLoop keeps the session gauges in step with the table and prunes
// rate limiter state for sources that no longer hold connections.
func statsLoop(ctx context.Context, b *broker.Broker, reg *transport.Registry, lim *ratelimit.Limiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st, err := b.Stats(ctx)
			if err != nil {
				return
			}
			obs.PendingSessions.Set(float64(st.Pending))
			obs.ConfirmedSessions.Set(float64(st.Confirmed))
			obs.MismatchedSessions.Set(float64(st.Mismatched))
			lim.CleanupSources(reg.ActiveSources())
			obs.Debug("stats.sync", obs.Fields{
				"connections": reg.Len(),
				"records":     st.Records,
				"pending":     st.Pending,
				"confirmed":   st.Confirmed,
				"mismatched":  st.Mismatched,
			})
		}
	}
}
