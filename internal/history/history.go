// Package history journals the quoted price so charts survive restarts.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"
)

// Point is one quoted price
type Point struct {
	Time   time.Time       `json:"time"`
	Price  decimal.Decimal `json:"price"`
	Source string          `json:"source"`
}

// Timeframes selectable on the price chart
var Timeframes = map[string]time.Duration{
	"1D": 24 * time.Hour,
	"1W": 7 * 24 * time.Hour,
	"1M": 30 * 24 * time.Hour,
	"1Y": 365 * 24 * time.Hour,
}

// keys: p:<8-byte big-endian unix nanos>
var pointPrefix = []byte("p:")

func pointKey(t time.Time) []byte {
	key := make([]byte, len(pointPrefix)+8)
	copy(key, pointPrefix)
	binary.BigEndian.PutUint64(key[len(pointPrefix):], uint64(t.UnixNano()))
	return key
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type Store struct {
	db *pebble.DB

	mu   sync.Mutex
	last *decimal.Decimal
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open price history at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends p to the journal
func (s *Store) Record(p Point) error {
	val, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal point: %w", err)
	}
	if err := s.db.Set(pointKey(p.Time), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save point: %w", err)
	}
	return nil
}

// Track records p only when its price differs from the last tracked price.
func (s *Store) Track(p Point) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		if latest, ok, err := s.Latest(); err == nil && ok {
			s.last = &latest.Price
		}
	}
	if s.last != nil && s.last.Equal(p.Price) {
		return false, nil
	}
	if err := s.Record(p); err != nil {
		return false, err
	}
	price := p.Price
	s.last = &price
	return true, nil
}

// Range returns the points in [from, to), oldest first.
func (s *Store) Range(from, to time.Time) ([]Point, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pointKey(from),
		UpperBound: pointKey(to),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	points := []Point{}
	for iter.First(); iter.Valid(); iter.Next() {
		var p Point
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			continue
		}
		points = append(points, p)
	}
	return points, nil
}

// Since returns the points of the named timeframe ending at now
func (s *Store) Since(timeframe string, now time.Time) ([]Point, error) {
	d, ok := Timeframes[timeframe]
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", timeframe)
	}
	return s.Range(now.Add(-d), now.Add(time.Nanosecond))
}

// Latest returns the most recent point
func (s *Store) Latest() (Point, bool, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pointPrefix,
		UpperBound: keyUpperBound(pointPrefix),
	})
	if err != nil {
		return Point{}, false, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return Point{}, false, nil
	}
	var p Point
	if err := json.Unmarshal(iter.Value(), &p); err != nil {
		return Point{}, false, fmt.Errorf("failed to decode latest point: %w", err)
	}
	return p, true, nil
}
