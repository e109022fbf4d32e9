package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	MinuteWindow = time.Minute
	HourWindow   = time.Hour
	RetryAfter   = 60 * time.Second
)

type Limit struct {
	PerMinute int
	PerHour   int
}

type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter decides whether one more request for key fits under l. Allowed
// requests are recorded; rejected ones are not.
type Limiter interface {
	Allow(ctx context.Context, key string, l Limit) (Decision, error)
}

// Memory is a per-process sliding window limiter.
type Memory struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{hits: map[string][]time.Time{}, now: now}
}

func (m *Memory) Allow(_ context.Context, key string, l Limit) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	minuteAgo := now.Add(-MinuteWindow)
	hourAgo := now.Add(-HourWindow)

	hits := m.hits[key]
	minute, hour := 0, 0
	for _, ts := range hits {
		if ts.After(hourAgo) {
			hour++
			if ts.After(minuteAgo) {
				minute++
			}
		}
	}
	if l.PerMinute > 0 && minute >= l.PerMinute {
		return Decision{Reason: fmt.Sprintf("too many requests per minute (%d/%d)", minute, l.PerMinute)}, nil
	}
	if l.PerHour > 0 && hour >= l.PerHour {
		return Decision{Reason: fmt.Sprintf("too many requests per hour (%d/%d)", hour, l.PerHour)}, nil
	}
	m.hits[key] = append(hits, now)
	return Decision{Allowed: true}, nil
}

// Sweep drops hits older than HourWindow and forgets idle keys. It returns
// the number of keys removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-HourWindow)
	removed := 0
	for key, hits := range m.hits {
		kept := hits[:0]
		for _, ts := range hits {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(m.hits, key)
			removed++
			continue
		}
		m.hits[key] = kept
	}
	return removed
}

func (m *Memory) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}
