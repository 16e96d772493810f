package pipeline

import "sync/atomic"

// streamStats holds per-stream counters, updated by that stream's
// producer and by the consumer.
type streamStats struct {
	Produced      atomic.Int64
	Stored        atomic.Int64
	Duplicates    atomic.Int64
	ParseFailures atomic.Int64
	StoreFailures atomic.Int64
}

// StreamStats is a point-in-time snapshot of one stream's counters.
type StreamStats struct {
	Produced      int64
	Stored        int64
	Duplicates    int64
	ParseFailures int64
	StoreFailures int64
}

// Stats returns a snapshot of per-stream counters keyed by stream id.
func (p *Pipeline) Stats() map[int]StreamStats {
	out := make(map[int]StreamStats, len(p.stats))
	for id, s := range p.stats {
		out[id] = StreamStats{
			Produced:      s.Produced.Load(),
			Stored:        s.Stored.Load(),
			Duplicates:    s.Duplicates.Load(),
			ParseFailures: s.ParseFailures.Load(),
			StoreFailures: s.StoreFailures.Load(),
		}
	}
	return out
}

// logStats emits one summary line per stream at shutdown.
func (p *Pipeline) logStats() {
	for id, s := range p.Stats() {
		p.logger.Info("stream totals",
			"stream", id,
			"produced", s.Produced,
			"stored", s.Stored,
			"duplicates", s.Duplicates,
			"parse_failures", s.ParseFailures,
			"store_failures", s.StoreFailures)
	}
}
