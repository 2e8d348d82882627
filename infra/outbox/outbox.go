// Package outbox persists recorded events in pebble until a broadcaster has
// published them.
package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/pebble"
)

var (
	ErrNotFound      = errors.New("outbox: record not found")
	ErrCorruptRecord = errors.New("outbox: corrupt record")
)

// ---- state ----

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ---- record ----

type Record struct {
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// [state:1][retries:4][lastAttempt:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

// decodeRecord copies the payload out of b; pebble owns b.
func decodeRecord(b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(b))
	}
	return Record{
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[headerLen:]),
	}, nil
}

// ---- store ----

// Entry is a payload waiting to be written under seq.
type Entry struct {
	Seq     uint64
	Payload []byte
}

type Outbox struct {
	db  *pebble.DB
	now func() time.Time
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("outbox: open %s: %w", dir, err)
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutNew stores payload under seq in state NEW.
func (o *Outbox) PutNew(seq uint64, payload []byte) error {
	return o.Append([]Entry{{Seq: seq, Payload: payload}})
}

// Append stores every entry in state NEW in one synced batch. The batch
// also raises the stored sequence high-water mark, which outlives the
// records themselves.
func (o *Outbox) Append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	high, err := o.metaSeq()
	if err != nil {
		return err
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, e := range entries {
		if err := b.Set(keyFor(e.Seq), encodeRecord(Record{State: StateNew, Payload: e.Payload}), nil); err != nil {
			return err
		}
		high = max(high, e.Seq)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], high)
	if err := b.Set([]byte(metaLastSeq), buf[:], nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// UpdateState moves seq to state, keeping its payload.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = o.now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// Delete removes seq. Deleting a missing record is not an error.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, fmt.Errorf("seq %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(val)
}

// ---- scan ----

// ScanByState calls fn for every record in state, in sequence order.
func (o *Outbox) ScanByState(state State, fn func(seq uint64, rec Record) error) error {
	return o.scan(func(seq uint64, rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(seq, rec)
	})
}

// LastSeq returns the highest sequence ever appended, including records
// since deleted, or zero for a fresh outbox.
func (o *Outbox) LastSeq() (uint64, error) {
	high, err := o.metaSeq()
	if err != nil {
		return 0, err
	}

	it, err := o.newIter()
	if err != nil {
		return 0, err
	}
	defer it.Close()

	if !it.Last() {
		return high, it.Error()
	}
	seq, err := parseKey(it.Key())
	if err != nil {
		return 0, err
	}
	return max(high, seq), nil
}

func (o *Outbox) metaSeq() (uint64, error) {
	val, closer, err := o.db.Get([]byte(metaLastSeq))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("%w: %s: %d bytes", ErrCorruptRecord, metaLastSeq, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// Counts returns the number of records per state.
func (o *Outbox) Counts() (map[State]int, error) {
	out := make(map[State]int)
	err := o.scan(func(_ uint64, rec Record) error {
		out[rec.State]++
		return nil
	})
	return out, err
}

func (o *Outbox) scan(fn func(seq uint64, rec Record) error) error {
	it, err := o.newIter()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		rec, err := decodeRecord(it.Value())
		if err != nil {
			return err
		}
		seq, err := parseKey(it.Key())
		if err != nil {
			return err
		}
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return it.Error()
}

func (o *Outbox) newIter() (*pebble.Iterator, error) {
	return o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
}

// ---- keys ----

const (
	keyPrefix   = "event/"
	metaLastSeq = "meta/last_seq"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q", ErrCorruptRecord, b)
	}
	return seq, nil
}
