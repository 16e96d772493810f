// Package pipeline coordinates the ingestion pipeline: one producer
// goroutine per stream feeding a shared bounded buffer, and a single
// consumer goroutine that parses each record and persists it.
//
// All writes are serialized through the one consumer. This is a
// load-bearing invariant: the relational sink's fast-path duplicate
// check is only safe because no two Store calls ever run concurrently
// against the same sink.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"edcollect/internal/activity"
	"edcollect/internal/directory"
	"edcollect/internal/feed"
	"edcollect/internal/logging"
	"edcollect/internal/sink"
)

var (
	// ErrNoStreams is returned when the pipeline has nothing to consume.
	ErrNoStreams = errors.New("no streams to consume")
	// ErrAlreadyRunning is returned when Run is called concurrently.
	ErrAlreadyRunning = errors.New("pipeline already running")
)

// FeedFactory opens the transport for one stream.
type FeedFactory func(stream directory.Stream) feed.Feed

// Config holds pipeline configuration.
type Config struct {
	// Streams are the resolved stream definitions, one producer each.
	Streams []directory.Stream

	// NewFeed opens the feed for a stream.
	NewFeed FeedFactory

	// Sink persists parsed activities. Exactly one consumer writes to
	// it; never share a sink with a second pipeline.
	Sink sink.Sink

	// BufferSize bounds the shared record buffer. Producers block when
	// it is full, trading backpressure for unbounded growth.
	BufferSize int

	// PollInterval is how long the consumer suspends when the buffer
	// is empty before re-checking.
	PollInterval time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// Pipeline owns the producer and consumer lifecycle.
type Pipeline struct {
	streams      []directory.Stream
	newFeed      FeedFactory
	sink         sink.Sink
	bufferSize   int
	pollInterval time.Duration
	logger       *slog.Logger
	runID        uuid.UUID

	mu      sync.Mutex
	running bool

	stats map[int]*streamStats
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	runID := uuid.New()

	stats := make(map[int]*streamStats, len(cfg.Streams))
	for _, st := range cfg.Streams {
		stats[st.ID] = &streamStats{}
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	return &Pipeline{
		streams:      cfg.Streams,
		newFeed:      cfg.NewFeed,
		sink:         cfg.Sink,
		bufferSize:   bufferSize,
		pollInterval: pollInterval,
		logger: logging.Default(cfg.Logger).With(
			"component", "pipeline", "run_id", runID.String()),
		runID: runID,
		stats: stats,
	}
}

// Run starts all producers and the consumer and blocks until every
// producer has terminated and the consumer has drained the buffer.
// Producers normally run until ctx is cancelled; a producer whose feed
// errors terminates alone, the rest of the pipeline continues.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.streams) == 0 {
		return ErrNoStreams
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	buffer := make(chan feed.Record, p.bufferSize)

	p.logger.Info("starting pipeline",
		"streams", len(p.streams),
		"buffer_size", p.bufferSize,
		"poll_interval", p.pollInterval)

	var producers errgroup.Group
	for _, st := range p.streams {
		st := st
		producers.Go(func() error {
			p.produce(ctx, st, buffer)
			return nil
		})
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		p.consume(buffer)
	}()

	// Ordered shutdown: wait for every producer, close the buffer,
	// then wait for the consumer to drain what remains.
	_ = producers.Wait()
	close(buffer)
	<-consumerDone

	p.logStats()
	return nil
}

// produce runs one stream's feed, forwarding every record into the
// shared buffer. Runs until the feed's sequence ends or errors; a
// transport error is fatal to this producer only and is not retried.
func (p *Pipeline) produce(ctx context.Context, st directory.Stream, buffer chan<- feed.Record) {
	logger := p.logger.With("stream", st.ID, "publisher", st.Publisher)
	logger.Info("starting producer", "name", st.Name)

	records := make(chan feed.Record, 1)
	done := make(chan error, 1)
	go func() {
		defer close(records)
		done <- p.newFeed(st).Run(ctx, records)
	}()

	stats := p.stats[st.ID]
	for rec := range records {
		stats.Produced.Add(1)
		buffer <- rec
	}

	if err := <-done; err != nil {
		logger.Error("producer terminated", "error", err)
		return
	}
	logger.Info("producer finished")
}

// consume drains all currently buffered records in FIFO order, then
// suspends until the poll interval elapses or new data arrives. It
// exits when the buffer channel is closed and empty. It never
// busy-spins.
func (p *Pipeline) consume(buffer <-chan feed.Record) {
	for {
		if !p.drain(buffer) {
			return
		}
		select {
		case rec, ok := <-buffer:
			if !ok {
				return
			}
			p.process(rec)
		case <-time.After(p.pollInterval):
		}
	}
}

// drain processes everything currently in the buffer without blocking.
// Returns false when the buffer is closed.
func (p *Pipeline) drain(buffer <-chan feed.Record) bool {
	for {
		select {
		case rec, ok := <-buffer:
			if !ok {
				return false
			}
			p.process(rec)
		default:
			return true
		}
	}
}

// process parses one record and stores the result. Every failure mode
// is contained here: malformed records, store failures, and duplicates
// are logged and dropped, never fatal.
//
// Stores run under a background context so records still in the buffer
// at shutdown are persisted rather than abandoned.
func (p *Pipeline) process(rec feed.Record) {
	stats := p.stats[rec.StreamID]

	act, err := activity.Parse(rec.Raw)
	if err != nil {
		if stats != nil {
			stats.ParseFailures.Add(1)
		}
		p.logger.Warn("dropping malformed record", "stream", rec.StreamID, "error", err)
		return
	}

	err = p.sink.Store(context.Background(), act)
	switch {
	case errors.Is(err, sink.ErrDuplicate):
		if stats != nil {
			stats.Duplicates.Add(1)
		}
		p.logger.Info("activity already stored", "native_id", act.NativeID)
	case err != nil:
		if stats != nil {
			stats.StoreFailures.Add(1)
		}
		p.logger.Error("failed to store activity",
			"native_id", act.NativeID, "publisher", act.Publisher, "error", err)
	default:
		if stats != nil {
			stats.Stored.Add(1)
		}
		p.logger.Info("activity stored",
			"native_id", act.NativeID, "publisher", act.Publisher)
	}
}
