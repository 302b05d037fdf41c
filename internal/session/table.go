package session

// Table holds every live Session Record, indexed both by owning connection
// and by declared pair so lookups stay O(1) regardless of table size. Every
// record is reachable through both indices at all times.
//
// The table is not safe for concurrent use: all access is serialized by the
// broker loop that owns it.
type Table struct {
	byConn map[ConnID]*Record
	byPair map[Pair]*Record
}

func NewTable() *Table {
	return &Table{
		byConn: make(map[ConnID]*Record),
		byPair: make(map[Pair]*Record),
	}
}

// Find returns the record owned by id, or nil.
func (t *Table) Find(id ConnID) *Record {
	return t.byConn[id]
}

// FindByPair returns the record declared for exactly p, or nil.
func (t *Table) FindByPair(p Pair) *Record {
	return t.byPair[p]
}

// Upsert stores rec under both indices. A record previously owned by the
// same connection, or previously declared for the same pair, is displaced so
// each index keeps at most one entry per key.
func (t *Table) Upsert(rec *Record) {
	p := rec.Pair()
	if prev := t.byConn[rec.Conn]; prev != nil && prev != rec {
		delete(t.byPair, prev.Pair())
	}
	if prev := t.byPair[p]; prev != nil && prev != rec {
		delete(t.byConn, prev.Conn)
	}
	t.byConn[rec.Conn] = rec
	t.byPair[p] = rec
}

// Remove deletes and returns the record owned by id, or nil if none exists.
func (t *Table) Remove(id ConnID) *Record {
	rec := t.byConn[id]
	if rec == nil {
		return nil
	}
	delete(t.byConn, id)
	delete(t.byPair, rec.Pair())
	return rec
}

// Range calls fn for every record until fn returns false. Iteration order is
// unspecified.
func (t *Table) Range(fn func(*Record) bool) {
	for _, rec := range t.byConn {
		if !fn(rec) {
			return
		}
	}
}

// Len reports the number of live records.
func (t *Table) Len() int {
	return len(t.byConn)
}
