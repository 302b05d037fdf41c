package session

import "time"

// ConnID identifies one live transport connection. IDs come from a monotonic
// counter at accept time and are never reused while the process lives.
type ConnID uint64

// None is the zero ConnID, meaning "no connection".
const None ConnID = 0

// State classifies a record's pairing progress.
type State int

const (
	// StatePending means no partner record points back yet.
	StatePending State = iota
	// StateConfirmed means a partner points back and both declared keys agree.
	StateConfirmed
	// StateMismatched means a partner points back but the keys differ.
	StateMismatched
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateMismatched:
		return "mismatched"
	}
	return "unknown"
}

// Pair is the declared direction of a record: who the owner claims to be and
// who it wants to reach.
type Pair struct {
	ClientID string
	TargetID string
}

// Reverse returns the opposite direction.
func (p Pair) Reverse() Pair {
	return Pair{ClientID: p.TargetID, TargetID: p.ClientID}
}

// Record is one connection's declared pairing intent plus, once matched, the
// relay link to its partner. Records are directional: a confirmed pairing is
// always two records, one owned by each side, each pointing at the other.
type Record struct {
	// Conn is the owning connection and the record's table key. The owner is
	// the party that receives traffic relayed toward this record.
	Conn     ConnID
	ClientID string
	TargetID string
	// ClientKey is the shared secret as declared by the owning connection.
	ClientKey string
	// TargetKey mirrors the partner's declared key; empty until a partner
	// record points back.
	TargetKey string
	// TargetConn is a weak reference to the partner connection, valid only
	// while the partner stays connected. The record never owns it.
	TargetConn ConnID
	// ConfirmedAt is set when the pairing last entered the confirmed state,
	// zero otherwise.
	ConfirmedAt time.Time
}

// Pair returns the record's declared direction.
func (r *Record) Pair() Pair {
	return Pair{ClientID: r.ClientID, TargetID: r.TargetID}
}

// State derives the pairing state from the partner link and key agreement.
func (r *Record) State() State {
	switch {
	case r.TargetConn == None:
		return StatePending
	case r.ClientKey == r.TargetKey:
		return StateConfirmed
	default:
		return StateMismatched
	}
}

// View is a read-only copy of one record for inspection surfaces.
type View struct {
	Conn        ConnID    `json:"conn"`
	ClientID    string    `json:"client"`
	TargetID    string    `json:"target"`
	ClientKey   string    `json:"client_key"`
	TargetKey   string    `json:"target_key"`
	TargetConn  ConnID    `json:"target_conn"`
	State       string    `json:"state"`
	ConfirmedAt time.Time `json:"confirmed_at,omitzero"`
}

func (r *Record) view() View {
	return View{
		Conn:        r.Conn,
		ClientID:    r.ClientID,
		TargetID:    r.TargetID,
		ClientKey:   r.ClientKey,
		TargetKey:   r.TargetKey,
		TargetConn:  r.TargetConn,
		State:       r.State().String(),
		ConfirmedAt: r.ConfirmedAt,
	}
}
