// Package feed defines the stream transport boundary. A Feed opens a
// long-lived connection to one stream endpoint and yields raw activity
// payloads until the transport ends, errors, or the context is
// cancelled.
package feed

import (
	"context"
	"time"
)

// Record is one raw activity payload produced by a Feed. It is opaque
// to the transport; parsing happens downstream in the consumer.
type Record struct {
	StreamID   int
	Raw        []byte
	ReceivedAt time.Time
}

// Feed is a source of raw activity records.
// Implementations must respect context cancellation and exit promptly.
type Feed interface {
	// Run opens the transport and emits records to the output channel.
	// Run blocks until ctx is cancelled, the remote closes the stream,
	// or an unrecoverable transport error occurs. A nil return means
	// the sequence ended cleanly (including cancellation); a non-nil
	// return is a transport failure.
	Run(ctx context.Context, out chan<- Record) error
}
