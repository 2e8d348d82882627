// Package watermark remembers each pool's high-water mark across runs so the
// next start-up can reserve what the last run actually needed.
package watermark

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
)

var ErrCorrupt = errors.New("watermark: corrupt value")

const keyPrefix = "watermark/"

type Store struct {
	db *pebble.DB
}

func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("watermark: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save records high for pool name. A lower value than the stored one is
// ignored, so a quiet run never shrinks the plan.
func (s *Store) Save(name string, high int) error {
	prev, ok, err := s.Load(name)
	if err != nil {
		return err
	}
	if ok && prev >= high {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(high))
	return s.db.Set([]byte(keyPrefix+name), buf[:], pebble.Sync)
}

// Load returns the stored mark for name.
func (s *Store) Load(name string) (int, bool, error) {
	val, closer, err := s.db.Get([]byte(keyPrefix + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, false, fmt.Errorf("%w: %s: %d bytes", ErrCorrupt, name, len(val))
	}
	return int(binary.BigEndian.Uint64(val)), true, nil
}

// Plan suggests a reserve size for name: the stored mark plus a quarter of
// headroom, never below fallback.
func (s *Store) Plan(name string, fallback int) (int, error) {
	high, ok, err := s.Load(name)
	if err != nil || !ok {
		return fallback, err
	}
	return max(fallback, high+(high+3)/4), nil
}

// All returns every stored mark by pool name.
func (s *Store) All() (map[string]int, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make(map[string]int)
	for it.First(); it.Valid(); it.Next() {
		val := it.Value()
		name := strings.TrimPrefix(string(it.Key()), keyPrefix)
		if len(val) != 8 {
			return nil, fmt.Errorf("%w: %s: %d bytes", ErrCorrupt, name, len(val))
		}
		out[name] = int(binary.BigEndian.Uint64(val))
	}
	return out, it.Error()
}
