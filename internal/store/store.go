// Package store holds the monitor's bounded metric history. Series are
// keyed "network.<provider>" / "protocol.<name>", capped at a hard entry
// limit and additionally pruned by age on a periodic sweep. The cap and
// the retention window act independently.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Point struct {
	Timestamp time.Time   `json:"timestamp"`
	Sample    interface{} `json:"sample"`
}

type Store struct {
	mx        sync.RWMutex
	series    map[string][]Point
	cap       int
	retention time.Duration
}

func New(cap int, retention time.Duration) *Store {
	if cap <= 0 {
		cap = 1000
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &Store{
		series:    make(map[string][]Point),
		cap:       cap,
		retention: retention,
	}
}

func (s *Store) Append(key string, sample interface{}) {
	s.AppendAt(key, time.Now(), sample)
}

// AppendAt writes a timestamped sample, trimming the series FIFO once it
// exceeds the cap.
func (s *Store) AppendAt(key string, ts time.Time, sample interface{}) {
	s.mx.Lock()
	defer s.mx.Unlock()

	pts := append(s.series[key], Point{Timestamp: ts, Sample: sample})
	if len(pts) > s.cap {
		copy(pts, pts[len(pts)-s.cap:])
		pts = pts[:s.cap]
	}
	s.series[key] = pts
}

// Read returns the last limit points for the key, most-recent-last. A
// non-positive limit returns the whole retained series.
func (s *Store) Read(key string, limit int) []Point {
	s.mx.RLock()
	defer s.mx.RUnlock()

	pts := s.series[key]
	if limit > 0 && len(pts) > limit {
		pts = pts[len(pts)-limit:]
	}

	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}

// Keys lists every key with at least one retained sample, sorted.
func (s *Store) Keys() []string {
	s.mx.RLock()
	defer s.mx.RUnlock()

	keys := make([]string, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sweep drops every point older than the retention window. Returns the
// number of points removed.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)

	s.mx.Lock()
	defer s.mx.Unlock()

	removed := 0
	for key, pts := range s.series {
		idx := sort.Search(len(pts), func(i int) bool {
			return pts[i].Timestamp.After(cutoff)
		})
		if idx == 0 {
			continue
		}

		removed += idx
		if idx == len(pts) {
			delete(s.series, key)
			continue
		}

		kept := make([]Point, len(pts)-idx)
		copy(kept, pts[idx:])
		s.series[key] = kept
	}

	return removed
}

// StartSweeper runs the retention sweep on the given interval until the
// context ends.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(time.Now()); removed > 0 {
					zap.S().Infow("metric retention sweep", "removed", removed)
				}
			}
		}
	}()

	return done
}
