package peers

import (
    "net"
    "time"

    "github.com/KrzysztofNawara/sysopy/pkg/transport"
)

const initialCapacity = 2

// Record is one known peer. Once Evicted the identity and address are
// released and the slot stays in place as a tombstone; Endpoint is kept.
type Record struct {
    ID       transport.Identity
    Addr     net.Addr
    Endpoint transport.Endpoint
    LastSeen time.Time
    Evicted  bool
}

// IDLen is the raw address length of the record's identity (0 once evicted).
func (r Record) IDLen() int { return r.ID.Len() }

// Registry is an ordered table of peers keyed by transport identity.
// Indices are stable for the lifetime of the Registry: records are never
// compacted or reused, eviction only tombstones. Not safe for concurrent use;
// the relay loop owns it.
type Registry struct {
    recs []Record
    live int
}

func NewRegistry() *Registry { return &Registry{recs: make([]Record, 0, initialCapacity)} }

// Lookup scans live records in order for id.
func (r *Registry) Lookup(id transport.Identity) (int, bool) {
    for i := range r.recs {
        if r.recs[i].Evicted { continue }
        if transport.Equal(r.recs[i].ID, id) { return i, true }
    }
    return -1, false
}

// Insert appends a new record and returns its index. Storage doubles when
// full; existing records keep their index and contents.
func (r *Registry) Insert(id transport.Identity, addr net.Addr, ep transport.Endpoint, now time.Time) int {
    if len(r.recs) == cap(r.recs) { r.grow() }
    r.recs = append(r.recs, Record{ID: id, Addr: cloneAddr(addr), Endpoint: ep, LastSeen: now})
    r.live++
    return len(r.recs) - 1
}

// Touch refreshes LastSeen of a live record. LastSeen never moves backwards.
func (r *Registry) Touch(i int, now time.Time) {
    if i < 0 || i >= len(r.recs) || r.recs[i].Evicted { return }
    if now.After(r.recs[i].LastSeen) { r.recs[i].LastSeen = now }
}

// Evict tombstones record i. It reports false if i is out of range or
// already evicted.
func (r *Registry) Evict(i int) bool {
    if i < 0 || i >= len(r.recs) || r.recs[i].Evicted { return false }
    rec := &r.recs[i]
    rec.ID = transport.Identity{}
    rec.Addr = nil
    rec.Evicted = true
    r.live--
    return true
}

// At returns a copy of record i.
func (r *Registry) At(i int) Record { return r.recs[i] }

// Len counts every slot ever inserted, tombstones included.
func (r *Registry) Len() int { return len(r.recs) }

// Cap is the size of the backing storage.
func (r *Registry) Cap() int { return cap(r.recs) }

// Live counts records that are not tombstoned.
func (r *Registry) Live() int { return r.live }

func (r *Registry) grow() {
    n := cap(r.recs) * 2
    if n == 0 { n = initialCapacity }
    recs := make([]Record, len(r.recs), n)
    copy(recs, r.recs)
    r.recs = recs
}

// cloneAddr detaches the address from the receive path so the record owns it.
func cloneAddr(a net.Addr) net.Addr {
    switch v := a.(type) {
    case *net.UDPAddr:
        if v == nil { return nil }
        c := *v
        c.IP = append(net.IP(nil), v.IP...)
        return &c
    case *net.UnixAddr:
        if v == nil { return nil }
        c := *v
        return &c
    default:
        return a
    }
}
