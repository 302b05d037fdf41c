package session

import (
	"errors"
	"sort"
	"time"
)

// Relay resolution failures. All of them mean "drop the payload"; the reason
// only feeds logs and metrics.
var (
	ErrNoRecord    = errors.New("session: connection has no record")
	ErrNoPartner   = errors.New("session: no partner linked")
	ErrKeyMismatch = errors.New("session: declared keys do not match")
)

// Declaration is one pairing request as read off the wire.
type Declaration struct {
	ClientID string
	TargetID string
	Key      string
}

func (d Declaration) pair() Pair {
	return Pair{ClientID: d.ClientID, TargetID: d.TargetID}
}

// Outcome is the result of reconciling a declaration against the table.
type Outcome int

const (
	// Invalid: the declaration misses a required field; nothing changed.
	Invalid Outcome = iota
	// Pending: intent recorded, no partner declaration present yet.
	Pending
	// Confirmed: partner present and both keys agree.
	Confirmed
	// Mismatched: partner present but the keys differ.
	Mismatched
)

func (o Outcome) String() string {
	switch o {
	case Invalid:
		return "invalid"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Mismatched:
		return "mismatched"
	}
	return "unknown"
}

// DeclareResult reports what a declaration did and who must hear about it.
type DeclareResult struct {
	Outcome Outcome
	// Partner is the resolved partner connection for Confirmed and
	// Mismatched outcomes, None otherwise.
	Partner ConnID
	// Demoted is a partner connection dropped back to pending because the
	// declarer abandoned its previous pairing, None if nobody was.
	Demoted ConnID
	// DemotedAfter is how long the abandoned link had been confirmed, zero
	// if it never was.
	DemotedAfter time.Duration
}

// DisconnectResult reports the cleanup cascade of one disconnect.
type DisconnectResult struct {
	// Demoted is the partner connection whose record lost its back
	// reference, None if no record pointed at the disconnecting side.
	Demoted ConnID
	// Removed reports whether the disconnecting connection owned a record.
	Removed bool
	// ConfirmedFor is how long the torn-down link had been confirmed, zero
	// if it never was.
	ConfirmedFor time.Duration
}

// Stats is a point-in-time census of the table by pairing state.
type Stats struct {
	Records    int `json:"records"`
	Pending    int `json:"pending"`
	Confirmed  int `json:"confirmed"`
	Mismatched int `json:"mismatched"`
}

// Engine applies the pairing protocol to a Table: declarations, relay
// resolution and the disconnect cascade. It performs no I/O and, like the
// table it owns, relies on its caller for serialization.
type Engine struct {
	table *Table
}

func NewEngine() *Engine {
	return &Engine{table: NewTable()}
}

// Declare reconciles a declaration from connection c against the table.
//
// Exactly one of four cases applies, keyed on whether a record already exists
// for the declared pair (forward) and for its reverse (the peer's side):
// neither exists and a fresh pending record is created; only forward exists
// and is refreshed in place; only reverse exists and both directions are
// wired in one step; both exist and both are re-pointed at the declarer.
func (e *Engine) Declare(c ConnID, d Declaration) DeclareResult {
	if d.ClientID == "" || d.TargetID == "" || d.Key == "" {
		return DeclareResult{Outcome: Invalid}
	}

	var res DeclareResult

	// A connection re-declaring under a different pair abandons its old
	// record first; its old partner, if any, drops back to pending.
	if own := e.table.Find(c); own != nil && own.Pair() != d.pair() {
		e.table.Remove(c)
		if own.TargetConn != None {
			res.Demoted, res.DemotedAfter = e.demote(own.TargetConn)
		}
	}

	forward := e.table.FindByPair(d.pair())
	reverse := e.table.FindByPair(d.pair().Reverse())

	switch {
	case forward == nil && reverse == nil:
		e.table.Upsert(&Record{
			Conn:      c,
			ClientID:  d.ClientID,
			TargetID:  d.TargetID,
			ClientKey: d.Key,
		})
		res.Outcome = Pending

	case forward != nil && reverse == nil:
		e.rebind(forward, c)
		forward.ClientKey = d.Key
		res.Outcome = Pending

	case forward == nil && reverse != nil:
		// The wanted peer is already waiting: wire both directions in the
		// same step so the two records always point at each other.
		reverse.TargetKey = d.Key
		reverse.TargetConn = c
		rec := &Record{
			Conn:       c,
			ClientID:   d.ClientID,
			TargetID:   d.TargetID,
			ClientKey:  d.Key,
			TargetKey:  reverse.ClientKey,
			TargetConn: reverse.Conn,
		}
		e.table.Upsert(rec)
		res.Partner = reverse.Conn
		res.Outcome = e.settle(rec, reverse)

	default:
		e.rebind(forward, c)
		forward.ClientKey = d.Key
		forward.TargetKey = reverse.ClientKey
		forward.TargetConn = reverse.Conn
		reverse.TargetKey = d.Key
		reverse.TargetConn = c
		res.Partner = reverse.Conn
		res.Outcome = e.settle(forward, reverse)
	}
	return res
}

// rebind moves a pair record to connection c. The common case is c already
// owning it (a re-declaration of the same pair, updated in place). When
// another connection declared the pair earlier, as happens when an endpoint
// reconnects before its old connection's disconnect was seen, the record
// changes owner instead of spawning a duplicate.
func (e *Engine) rebind(rec *Record, c ConnID) {
	if rec.Conn == c {
		return
	}
	e.table.Remove(rec.Conn)
	rec.Conn = c
	e.table.Upsert(rec)
}

// settle derives the outcome after both sides of a pairing were updated and
// maintains the confirmation timestamps on both records.
func (e *Engine) settle(own, peer *Record) Outcome {
	if own.State() != StateConfirmed {
		own.ConfirmedAt = time.Time{}
		peer.ConfirmedAt = time.Time{}
		return Mismatched
	}
	// Keep the original timestamp on an idempotent re-declaration.
	if own.ConfirmedAt.IsZero() || peer.ConfirmedAt.IsZero() {
		now := time.Now()
		own.ConfirmedAt = now
		peer.ConfirmedAt = now
	}
	return Confirmed
}

// demote clears the partner side of the record owned by conn, returning the
// demoted owner and, if the link had been confirmed, its lifetime.
func (e *Engine) demote(conn ConnID) (ConnID, time.Duration) {
	rec := e.table.Find(conn)
	if rec == nil || rec.TargetConn == None {
		return None, 0
	}
	var lifetime time.Duration
	if rec.State() == StateConfirmed && !rec.ConfirmedAt.IsZero() {
		lifetime = time.Since(rec.ConfirmedAt)
	}
	rec.TargetKey = ""
	rec.TargetConn = None
	rec.ConfirmedAt = time.Time{}
	return rec.Conn, lifetime
}

// Resolve returns the connection that should receive traffic relayed by c.
// It fails when c owns no record, no partner is linked, or the declared
// keys disagree. A linked partner alone is not enough to forward.
func (e *Engine) Resolve(c ConnID) (ConnID, error) {
	rec := e.table.Find(c)
	if rec == nil {
		return None, ErrNoRecord
	}
	if rec.TargetConn == None {
		return None, ErrNoPartner
	}
	if rec.ClientKey != rec.TargetKey {
		return None, ErrKeyMismatch
	}
	return rec.TargetConn, nil
}

// Disconnect runs the cleanup cascade for a closed connection: the partner
// record pointing at it, if any, is demoted to pending, and its own record
// is removed unconditionally.
func (e *Engine) Disconnect(d ConnID) DisconnectResult {
	var res DisconnectResult
	e.table.Range(func(rec *Record) bool {
		if rec.TargetConn == d {
			res.Demoted, res.ConfirmedFor = e.demote(rec.Conn)
			return false
		}
		return true
	})
	if own := e.table.Remove(d); own != nil {
		res.Removed = true
		// The disconnecting side's record carries the same confirmation
		// timestamp as its demoted partner; report the lifetime once even
		// when the partner vanished first.
		if res.ConfirmedFor == 0 && own.State() == StateConfirmed && !own.ConfirmedAt.IsZero() {
			res.ConfirmedFor = time.Since(own.ConfirmedAt)
		}
	}
	return res
}

// Snapshot copies every record for inspection surfaces, ordered by owning
// connection for stable rendering.
func (e *Engine) Snapshot() []View {
	out := make([]View, 0, e.table.Len())
	e.table.Range(func(rec *Record) bool {
		out = append(out, rec.view())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Conn < out[j].Conn })
	return out
}

// Stats counts live records by pairing state.
func (e *Engine) Stats() Stats {
	var st Stats
	e.table.Range(func(rec *Record) bool {
		st.Records++
		switch rec.State() {
		case StatePending:
			st.Pending++
		case StateConfirmed:
			st.Confirmed++
		case StateMismatched:
			st.Mismatched++
		}
		return true
	})
	return st
}
