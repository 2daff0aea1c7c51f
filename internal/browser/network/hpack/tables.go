// File: internal/browser/network/hpack/tables.go
package hpack

import (
	"fmt"
)

// HeaderField is one name/value pair. Sensitive fields are encoded as
// never-indexed literals so intermediaries do not cache them either.
type HeaderField struct {
	Name, Value string
	Sensitive   bool
}

// entryOverhead is the per-entry accounting constant of RFC 7541 section 4.1.
const entryOverhead = 32

// Size is the field's cost in a dynamic table.
func (f HeaderField) Size() uint32 {
	return uint32(len(f.Name) + len(f.Value) + entryOverhead)
}

func (f HeaderField) String() string {
	suffix := ""
	if f.Sensitive {
		suffix = " (sensitive)"
	}
	return fmt.Sprintf("%s: %s%s", f.Name, f.Value, suffix)
}

type pair struct{ name, value string }

var staticTable = [...]pair{
	{":authority", ""},
	{":method", "GET"},
	{":method", "POST"},
	{":path", "/"},
	{":path", "/index.html"},
	{":scheme", "http"},
	{":scheme", "https"},
	{":status", "200"},
	{":status", "204"},
	{":status", "206"},
	{":status", "304"},
	{":status", "400"},
	{":status", "404"},
	{":status", "500"},
	{"accept-charset", ""},
	{"accept-encoding", "gzip, deflate"},
	{"accept-language", ""},
	{"accept-ranges", ""},
	{"accept", ""},
	{"access-control-allow-origin", ""},
	{"age", ""},
	{"allow", ""},
	{"authorization", ""},
	{"cache-control", ""},
	{"content-disposition", ""},
	{"content-encoding", ""},
	{"content-language", ""},
	{"content-length", ""},
	{"content-location", ""},
	{"content-range", ""},
	{"content-type", ""},
	{"cookie", ""},
	{"date", ""},
	{"etag", ""},
	{"expect", ""},
	{"expires", ""},
	{"from", ""},
	{"host", ""},
	{"if-match", ""},
	{"if-modified-since", ""},
	{"if-none-match", ""},
	{"if-range", ""},
	{"if-unmodified-since", ""},
	{"last-modified", ""},
	{"link", ""},
	{"location", ""},
	{"max-forwards", ""},
	{"proxy-authenticate", ""},
	{"proxy-authorization", ""},
	{"range", ""},
	{"referer", ""},
	{"refresh", ""},
	{"retry-after", ""},
	{"server", ""},
	{"set-cookie", ""},
	{"strict-transport-security", ""},
	{"transfer-encoding", ""},
	{"user-agent", ""},
	{"vary", ""},
	{"via", ""},
	{"www-authenticate", ""},
}

// StaticTableLen is the number of entries in the static table.
const StaticTableLen = len(staticTable)

var (
	staticByPair = make(map[pair]uint64, StaticTableLen)
	staticByName = make(map[string]uint64, StaticTableLen)
)

func init() {
	for i, p := range staticTable {
		idx := uint64(i + 1)
		staticByPair[p] = idx
		if _, ok := staticByName[p.name]; !ok {
			staticByName[p.name] = idx
		}
	}
}

// DynamicTable is the FIFO of recently indexed fields. Index 1 is the
// newest entry. Its size never exceeds its maximum.
type DynamicTable struct {
	// entries is oldest first.
	entries []HeaderField
	size    uint32
	maxSize uint32
}

func NewDynamicTable(maxSize uint32) *DynamicTable {
	return &DynamicTable{maxSize: maxSize}
}

func (t *DynamicTable) Len() int        { return len(t.entries) }
func (t *DynamicTable) Size() uint32    { return t.size }
func (t *DynamicTable) MaxSize() uint32 { return t.maxSize }

// SetMaxSize changes the bound and evicts until the table fits.
func (t *DynamicTable) SetMaxSize(n uint32) {
	t.maxSize = n
	t.evict(0)
}

// Add inserts f as the newest entry, evicting the oldest entries until it
// fits. A field larger than the whole table empties it and is not stored.
func (t *DynamicTable) Add(f HeaderField) {
	f.Sensitive = false
	t.evict(f.Size())
	if f.Size() > t.maxSize {
		return
	}
	t.entries = append(t.entries, f)
	t.size += f.Size()
}

func (t *DynamicTable) evict(incoming uint32) {
	n := 0
	for n < len(t.entries) && t.size+incoming > t.maxSize {
		t.size -= t.entries[n].Size()
		n++
	}
	if n > 0 {
		t.entries = append(t.entries[:0], t.entries[n:]...)
	}
}

// At returns the entry at 1-based dynamic index i.
func (t *DynamicTable) At(i uint64) (HeaderField, bool) {
	if i == 0 || i > uint64(len(t.entries)) {
		return HeaderField{}, false
	}
	return t.entries[uint64(len(t.entries))-i], true
}

// search finds the newest entry matching name and value, or failing that
// the newest with the same name. Indices are dynamic, 1-based.
func (t *DynamicTable) search(f HeaderField) (idx uint64, nameOnly bool) {
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.Name != f.Name {
			continue
		}
		at := uint64(len(t.entries) - i)
		if e.Value == f.Value {
			return at, false
		}
		if idx == 0 {
			idx = at
		}
	}
	return idx, idx != 0
}
