package broker

import (
	"context"
	"errors"

	"github.com/matst80/matchbox/internal/obs"
	"github.com/matst80/matchbox/internal/proto"
	"github.com/matst80/matchbox/internal/session"
)

// ErrStopped is returned by inspection calls after Run has exited.
var ErrStopped = errors.New("broker: stopped")

// Sender delivers a payload to a connection. Implementations must not
// block; false means the connection is gone or wedged, which the broker
// treats as a failed fire-and-forget send.
type Sender interface {
	Send(id session.ConnID, payload []byte) bool
}

type eventKind int

const (
	evDeclare eventKind = iota
	evRelay
	evDisconnect
	evSnapshot
	evStats
)

// event is one unit of serialized work. Exactly the fields for its kind are
// set; reply channels are buffered so the loop never blocks on a caller.
type event struct {
	kind    eventKind
	conn    session.ConnID
	decl    session.Declaration
	payload []byte
	views   chan []session.View
	stats   chan session.Stats
}

// Broker drains every pairing event through a single goroutine. The session
// engine is only ever touched from that goroutine, so the table needs no
// lock and every outcome corresponds to the arrival order of events.
type Broker struct {
	engine *session.Engine
	sender Sender
	inbox  chan event
	done   chan struct{}
}

func New(sender Sender) *Broker {
	return &Broker{
		engine: session.NewEngine(),
		sender: sender,
		inbox:  make(chan event, 256),
		done:   make(chan struct{}),
	}
}

// Run consumes events until ctx is cancelled. It must be running before any
// connection is accepted and owns all session state while it is.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.inbox:
			b.handle(ev)
		}
	}
}

// Declare queues a pairing declaration read from conn.
func (b *Broker) Declare(conn session.ConnID, d session.Declaration) {
	b.enqueue(event{kind: evDeclare, conn: conn, decl: d})
}

// Relay queues a command payload from conn for delivery to its partner.
func (b *Broker) Relay(conn session.ConnID, payload []byte) {
	b.enqueue(event{kind: evRelay, conn: conn, payload: payload})
}

// Disconnect queues the cleanup cascade for a closed connection.
func (b *Broker) Disconnect(conn session.ConnID) {
	b.enqueue(event{kind: evDisconnect, conn: conn})
}

// Snapshot returns a copy of every session record, for the dashboard and
// the state API.
func (b *Broker) Snapshot(ctx context.Context) ([]session.View, error) {
	reply := make(chan []session.View, 1)
	if err := b.roundtrip(ctx, event{kind: evSnapshot, views: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-b.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns the current record census. Because the loop answers in
// arrival order, a Stats call also serves as a barrier: once it returns,
// every event queued before it has been fully applied.
func (b *Broker) Stats(ctx context.Context) (session.Stats, error) {
	reply := make(chan session.Stats, 1)
	if err := b.roundtrip(ctx, event{kind: evStats, stats: reply}); err != nil {
		return session.Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-b.done:
		return session.Stats{}, ErrStopped
	case <-ctx.Done():
		return session.Stats{}, ctx.Err()
	}
}

func (b *Broker) enqueue(ev event) {
	select {
	case b.inbox <- ev:
	case <-b.done:
	}
}

func (b *Broker) roundtrip(ctx context.Context, ev event) error {
	select {
	case b.inbox <- ev:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) handle(ev event) {
	switch ev.kind {
	case evDeclare:
		b.declare(ev.conn, ev.decl)
	case evRelay:
		b.relay(ev.conn, ev.payload)
	case evDisconnect:
		b.disconnect(ev.conn)
	case evSnapshot:
		ev.views <- b.engine.Snapshot()
	case evStats:
		ev.stats <- b.engine.Stats()
	}
}

func (b *Broker) declare(conn session.ConnID, d session.Declaration) {
	res := b.engine.Declare(conn, d)
	obs.DeclarationsTotal.WithLabelValues(res.Outcome.String()).Inc()

	switch res.Outcome {
	case session.Invalid:
		obs.Info("session.declare.invalid", obs.Fields{"conn": conn})
		b.signal(conn, proto.SignalInvalid)
		return
	case session.Pending:
		b.signal(conn, proto.SignalPartnerLost)
	case session.Confirmed:
		b.signal(conn, proto.SignalUp)
		if res.Partner != conn {
			b.signal(res.Partner, proto.SignalUp)
		}
	case session.Mismatched:
		b.signal(conn, proto.SignalKeyMismatch)
		if res.Partner != conn {
			b.signal(res.Partner, proto.SignalKeyMismatch)
		}
	}
	obs.Info("session.declare", obs.Fields{
		"conn":    conn,
		"client":  d.ClientID,
		"target":  d.TargetID,
		"outcome": res.Outcome.String(),
	})

	// A declaration that walked away from a confirmed pairing leaves the
	// old partner pending; it hears the same signal as a disconnect.
	if res.Demoted != session.None && res.Demoted != conn {
		b.signal(res.Demoted, proto.SignalPartnerLost)
		obs.DemotionsTotal.Inc()
		obs.Info("session.demoted", obs.Fields{"conn": res.Demoted, "by": conn})
	}
	if res.DemotedAfter > 0 {
		obs.SessionDurationSeconds.Observe(res.DemotedAfter.Seconds())
	}
}

func (b *Broker) relay(conn session.ConnID, payload []byte) {
	target, err := b.engine.Resolve(conn)
	if err != nil {
		obs.CommandsDroppedTotal.WithLabelValues(dropReason(err)).Inc()
		obs.Debug("relay.drop", obs.Fields{"conn": conn, "reason": dropReason(err)})
		return
	}
	if !b.sender.Send(target, payload) {
		obs.CommandsDroppedTotal.WithLabelValues("send_failed").Inc()
		obs.Debug("relay.drop", obs.Fields{"conn": conn, "target": target, "reason": "send_failed"})
		return
	}
	obs.CommandsRelayedTotal.Inc()
	obs.Debug("relay.forward", obs.Fields{"conn": conn, "target": target, "bytes": len(payload)})
}

func (b *Broker) disconnect(conn session.ConnID) {
	res := b.engine.Disconnect(conn)
	if res.Demoted != session.None && res.Demoted != conn {
		b.signal(res.Demoted, proto.SignalPartnerLost)
		obs.DemotionsTotal.Inc()
	}
	if res.ConfirmedFor > 0 {
		obs.SessionDurationSeconds.Observe(res.ConfirmedFor.Seconds())
	}
	obs.Info("session.disconnect", obs.Fields{
		"conn":    conn,
		"removed": res.Removed,
		"demoted": res.Demoted,
	})
}

func (b *Broker) signal(conn session.ConnID, text string) {
	if !b.sender.Send(conn, []byte(text)) {
		obs.ErrorsTotal.WithLabelValues("signal_send").Inc()
		obs.Error("signal.send_failed", obs.Fields{"conn": conn, "signal": text})
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, session.ErrNoRecord):
		return "no_record"
	case errors.Is(err, session.ErrNoPartner):
		return "no_partner"
	case errors.Is(err, session.ErrKeyMismatch):
		return "key_mismatch"
	}
	return "unknown"
}
