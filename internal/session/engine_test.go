package session

import (
	"errors"
	"testing"
	"time"
)

func declare(t *testing.T, e *Engine, c ConnID, client, target, key string) DeclareResult {
	t.Helper()
	return e.Declare(c, Declaration{ClientID: client, TargetID: target, Key: key})
}

func TestDeclareRejectsMissingFields(t *testing.T) {
	e := NewEngine()
	cases := []Declaration{
		{},
		{ClientID: "a"},
		{ClientID: "a", TargetID: "b"},
		{ClientID: "a", Key: "k"},
		{TargetID: "b", Key: "k"},
	}
	for _, d := range cases {
		if res := e.Declare(1, d); res.Outcome != Invalid {
			t.Errorf("Declare(%+v) outcome = %v, want invalid", d, res.Outcome)
		}
	}
	if e.table.Len() != 0 {
		t.Fatalf("invalid declarations mutated the table, len = %d", e.table.Len())
	}
}

func TestDeclareFirstSideIsPending(t *testing.T) {
	e := NewEngine()
	res := declare(t, e, 1, "alpha", "beta", "k1")
	if res.Outcome != Pending {
		t.Fatalf("outcome = %v, want pending", res.Outcome)
	}
	if res.Partner != None {
		t.Fatalf("partner = %d, want none", res.Partner)
	}
	if _, err := e.Resolve(1); !errors.Is(err, ErrNoPartner) {
		t.Fatalf("Resolve before pairing: err = %v, want ErrNoPartner", err)
	}
}

func TestDeclareMatchingKeysConfirm(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	res := declare(t, e, 2, "beta", "alpha", "k1")

	if res.Outcome != Confirmed {
		t.Fatalf("outcome = %v, want confirmed", res.Outcome)
	}
	if res.Partner != 1 {
		t.Fatalf("partner = %d, want 1", res.Partner)
	}
	for from, to := range map[ConnID]ConnID{1: 2, 2: 1} {
		got, err := e.Resolve(from)
		if err != nil {
			t.Fatalf("Resolve(%d): %v", from, err)
		}
		if got != to {
			t.Fatalf("Resolve(%d) = %d, want %d", from, got, to)
		}
	}
}

// The end state must not depend on which endpoint declared first.
func TestDeclareOrderSymmetry(t *testing.T) {
	forward := NewEngine()
	declare(t, forward, 1, "alpha", "beta", "k1")
	declare(t, forward, 2, "beta", "alpha", "k1")

	reversed := NewEngine()
	declare(t, reversed, 2, "beta", "alpha", "k1")
	declare(t, reversed, 1, "alpha", "beta", "k1")

	for _, e := range []*Engine{forward, reversed} {
		st := e.Stats()
		if st.Records != 2 || st.Confirmed != 2 {
			t.Fatalf("stats = %+v, want 2 records, both confirmed", st)
		}
		if got, err := e.Resolve(1); err != nil || got != 2 {
			t.Fatalf("Resolve(1) = %d, %v, want 2", got, err)
		}
	}
}

func TestDeclareKeyMismatch(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	res := declare(t, e, 2, "beta", "alpha", "other")

	if res.Outcome != Mismatched {
		t.Fatalf("outcome = %v, want mismatched", res.Outcome)
	}
	if res.Partner != 1 {
		t.Fatalf("partner = %d, want 1", res.Partner)
	}
	for _, c := range []ConnID{1, 2} {
		if _, err := e.Resolve(c); !errors.Is(err, ErrKeyMismatch) {
			t.Fatalf("Resolve(%d): err = %v, want ErrKeyMismatch", c, err)
		}
	}
}

func TestDeclareMismatchRepairedByRedeclaration(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "other")

	res := declare(t, e, 2, "beta", "alpha", "k1")
	if res.Outcome != Confirmed {
		t.Fatalf("outcome after repair = %v, want confirmed", res.Outcome)
	}
	if got, err := e.Resolve(1); err != nil || got != 2 {
		t.Fatalf("Resolve(1) = %d, %v, want 2", got, err)
	}
}

func TestDeclareConfirmedDowngradesOnKeyChange(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")

	res := declare(t, e, 1, "alpha", "beta", "rotated")
	if res.Outcome != Mismatched {
		t.Fatalf("outcome = %v, want mismatched", res.Outcome)
	}
	if _, err := e.Resolve(2); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("Resolve(2): err = %v, want ErrKeyMismatch", err)
	}
}

func TestDeclareIdempotentRedeclaration(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")
	before := e.Snapshot()

	res := declare(t, e, 1, "alpha", "beta", "k1")
	if res.Outcome != Confirmed {
		t.Fatalf("outcome = %v, want confirmed", res.Outcome)
	}
	after := e.Snapshot()
	if len(before) != len(after) {
		t.Fatalf("record count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("record %d changed on idempotent re-declaration:\n  %+v\n  %+v", i, before[i], after[i])
		}
	}
}

func TestDeclareIdentityChangeDemotesPartner(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")

	res := declare(t, e, 1, "alpha", "gamma", "k2")
	if res.Outcome != Pending {
		t.Fatalf("outcome = %v, want pending", res.Outcome)
	}
	if res.Demoted != 2 {
		t.Fatalf("demoted = %d, want 2", res.Demoted)
	}
	if _, err := e.Resolve(2); !errors.Is(err, ErrNoPartner) {
		t.Fatalf("Resolve(2): err = %v, want ErrNoPartner", err)
	}
	if got := e.table.FindByPair(Pair{ClientID: "alpha", TargetID: "beta"}); got != nil {
		t.Fatalf("abandoned pair still indexed: %+v", got)
	}
}

func TestDeclareIdentityChangeFromPendingDemotesNobody(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")

	res := declare(t, e, 1, "alpha", "gamma", "k1")
	if res.Outcome != Pending {
		t.Fatalf("outcome = %v, want pending", res.Outcome)
	}
	if res.Demoted != None {
		t.Fatalf("demoted = %d, want none", res.Demoted)
	}
	if e.table.Len() != 1 {
		t.Fatalf("table len = %d, want 1", e.table.Len())
	}
}

func TestDeclareTakeoverReplacesOwner(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	res := declare(t, e, 3, "alpha", "beta", "k1")

	if res.Outcome != Pending {
		t.Fatalf("outcome = %v, want pending", res.Outcome)
	}
	if e.table.Len() != 1 {
		t.Fatalf("table len = %d, want 1", e.table.Len())
	}
	if _, err := e.Resolve(1); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("old owner Resolve: err = %v, want ErrNoRecord", err)
	}
	if rec := e.table.Find(3); rec == nil {
		t.Fatal("new owner has no record")
	}
}

func TestDeclareTakeoverOfConfirmedPairRelinksPartner(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")

	res := declare(t, e, 3, "alpha", "beta", "k1")
	if res.Outcome != Confirmed {
		t.Fatalf("outcome = %v, want confirmed", res.Outcome)
	}
	if res.Partner != 2 {
		t.Fatalf("partner = %d, want 2", res.Partner)
	}
	if got, err := e.Resolve(2); err != nil || got != 3 {
		t.Fatalf("Resolve(2) = %d, %v, want 3", got, err)
	}
	if _, err := e.Resolve(1); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("displaced owner Resolve: err = %v, want ErrNoRecord", err)
	}
}

func TestDisconnectDemotesPartner(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")

	res := e.Disconnect(2)
	if !res.Removed {
		t.Fatal("Removed = false, want true")
	}
	if res.Demoted != 1 {
		t.Fatalf("demoted = %d, want 1", res.Demoted)
	}
	if _, err := e.Resolve(1); !errors.Is(err, ErrNoPartner) {
		t.Fatalf("Resolve(1): err = %v, want ErrNoPartner", err)
	}
	if e.table.Len() != 1 {
		t.Fatalf("table len = %d, want 1", e.table.Len())
	}
}

func TestDisconnectReportsConfirmedLifetime(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")
	time.Sleep(5 * time.Millisecond)

	if res := e.Disconnect(2); res.ConfirmedFor <= 0 {
		t.Fatalf("ConfirmedFor = %v, want > 0", res.ConfirmedFor)
	}
}

func TestDisconnectUnknownConnIsNoop(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")

	res := e.Disconnect(42)
	if res.Removed || res.Demoted != None {
		t.Fatalf("Disconnect(42) = %+v, want no effect", res)
	}
	if e.table.Len() != 1 {
		t.Fatalf("table len = %d, want 1", e.table.Len())
	}
}

func TestDisconnectThenRedeclarePairsAgain(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "alpha", "beta", "k1")
	declare(t, e, 2, "beta", "alpha", "k1")
	e.Disconnect(2)

	res := declare(t, e, 5, "beta", "alpha", "k1")
	if res.Outcome != Confirmed {
		t.Fatalf("outcome = %v, want confirmed", res.Outcome)
	}
	if got, err := e.Resolve(1); err != nil || got != 5 {
		t.Fatalf("Resolve(1) = %d, %v, want 5", got, err)
	}
}

func TestResolveWithoutRecord(t *testing.T) {
	e := NewEngine()
	if _, err := e.Resolve(9); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("err = %v, want ErrNoRecord", err)
	}
}

// Declaring a pair whose two identities are equal makes the record its own
// reverse: the second declaration links the connection to itself.
func TestDeclareSelfPairLoopback(t *testing.T) {
	e := NewEngine()
	if res := declare(t, e, 1, "echo", "echo", "k1"); res.Outcome != Pending {
		t.Fatalf("first declaration outcome = %v, want pending", res.Outcome)
	}
	res := declare(t, e, 1, "echo", "echo", "k1")
	if res.Outcome != Confirmed {
		t.Fatalf("second declaration outcome = %v, want confirmed", res.Outcome)
	}
	if res.Partner != 1 {
		t.Fatalf("partner = %d, want 1", res.Partner)
	}
	if got, err := e.Resolve(1); err != nil || got != 1 {
		t.Fatalf("Resolve(1) = %d, %v, want 1", got, err)
	}
}

func TestStatsCountsByState(t *testing.T) {
	e := NewEngine()
	declare(t, e, 1, "a", "b", "k")
	declare(t, e, 2, "b", "a", "k")
	declare(t, e, 3, "c", "d", "k")
	declare(t, e, 4, "d", "c", "nope")
	declare(t, e, 5, "e", "f", "k")

	st := e.Stats()
	want := Stats{Records: 5, Pending: 1, Confirmed: 2, Mismatched: 2}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}
}

func TestSnapshotOrderedByConn(t *testing.T) {
	e := NewEngine()
	declare(t, e, 9, "a", "b", "k")
	declare(t, e, 3, "c", "d", "k")
	declare(t, e, 6, "e", "f", "k")

	views := e.Snapshot()
	if len(views) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(views))
	}
	for i := 1; i < len(views); i++ {
		if views[i-1].Conn >= views[i].Conn {
			t.Fatalf("snapshot not ordered: %+v", views)
		}
	}
	if views[0].State != "pending" {
		t.Fatalf("view state = %q, want pending", views[0].State)
	}
}
