package report

import (
	"sync"
	"time"
)

// sampleRecord tracks occurrences of one fingerprint
type sampleRecord struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
	TraceID   string
}

// Sampler deduplicates notifications for reports with the same fingerprint
type Sampler struct {
	mu              sync.Mutex
	seen            map[string]*sampleRecord
	window          time.Duration
	retentionPeriod time.Duration
	lastCleanup     time.Time
}

// SamplerConfig configures the sampler
type SamplerConfig struct {
	Window          time.Duration // Repeats inside this window are counted, not notified (default 5m)
	RetentionPeriod time.Duration // How long idle records are kept (default 24h)
}

// NewSampler creates a new sampler
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}

	return &Sampler{
		seen:            make(map[string]*sampleRecord),
		window:          cfg.Window,
		retentionPeriod: cfg.RetentionPeriod,
		lastCleanup:     time.Now(),
	}
}

// ShouldNotify decides whether r triggers a notification:
//   - first occurrence of a fingerprint: notify
//   - repeat within the window: skip, just count
//   - repeat after the window: notify, with r.RepeatCount set to the
//     occurrences accumulated since the last notification
func (s *Sampler) ShouldNotify(r *Report) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeCleanup(r.Timestamp)

	record, exists := s.seen[r.Fingerprint]
	if !exists {
		s.seen[r.Fingerprint] = &sampleRecord{
			FirstSeen: r.Timestamp,
			LastSeen:  r.Timestamp,
			Count:     1,
			TraceID:   r.TraceID,
		}
		return true
	}

	if r.Timestamp.Sub(record.LastSeen) < s.window {
		record.Count++
		record.LastSeen = r.Timestamp
		return false
	}

	r.RepeatCount = record.Count
	record.LastSeen = r.Timestamp
	record.Count = 1
	record.TraceID = r.TraceID
	return true
}

// Forget drops the record for a fingerprint so its next occurrence counts
// as the first, for instance after the report was resolved
func (s *Sampler) Forget(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, fingerprint)
}

// Pending returns how many occurrences of a fingerprint were counted since
// its last notification
func (s *Sampler) Pending(fingerprint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.seen[fingerprint]; ok {
		return record.Count
	}
	return 0
}

// Len returns the number of tracked fingerprints
func (s *Sampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// maybeCleanup drops idle records at most once an hour. Caller holds mu.
func (s *Sampler) maybeCleanup(now time.Time) {
	if now.Sub(s.lastCleanup) < time.Hour {
		return
	}
	s.lastCleanup = now

	cutoff := now.Add(-s.retentionPeriod)
	for fp, record := range s.seen {
		if record.LastSeen.Before(cutoff) {
			delete(s.seen, fp)
		}
	}
}
