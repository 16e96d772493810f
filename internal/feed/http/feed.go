// Package http provides the HTTP streaming Feed implementation. It
// holds a long-lived basic-auth GET against a stream endpoint and
// splits the response body into complete activity documents.
package http

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"

	"edcollect/internal/feed"
	"edcollect/internal/logging"
)

const (
	// maxRecordSize caps a single activity document.
	maxRecordSize = 16 << 20
	// scanBufferSize is the scanner's initial buffer.
	scanBufferSize = 64 << 10
)

var (
	entryOpen  = []byte("<entry")
	entryClose = []byte("</entry>")
)

// Feed streams raw activity records from one EDC stream endpoint.
// It implements feed.Feed.
type Feed struct {
	streamID int
	url      string
	userName string
	password string
	client   *http.Client
	logger   *slog.Logger
}

// Config holds HTTP feed configuration.
type Config struct {
	// StreamID tags emitted records with their owning stream.
	StreamID int

	// URL is the stream endpoint, e.g.
	// "https://acme.gnip.com/data_collectors/1/stream.xml".
	URL string

	// UserName and Password authenticate the connection (basic auth).
	UserName string
	Password string

	// Client is the HTTP client. It must not carry a request timeout;
	// the connection is expected to stay open indefinitely. A suitable
	// default is used when nil.
	Client *http.Client

	// Logger for structured logging.
	Logger *slog.Logger
}

var _ feed.Feed = (*Feed)(nil)

// New creates an HTTP streaming feed.
func New(cfg Config) *Feed {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		}
	}
	return &Feed{
		streamID: cfg.StreamID,
		url:      cfg.URL,
		userName: cfg.UserName,
		password: cfg.Password,
		client:   client,
		logger: logging.Default(cfg.Logger).With(
			"component", "feed", "type", "http", "stream", cfg.StreamID),
	}
}

// Run opens the stream and emits one record per complete activity
// document until the remote closes the connection, a transport error
// occurs, or ctx is cancelled. There is no automatic reconnect.
func (f *Feed) Run(ctx context.Context, out chan<- feed.Record) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(f.userName, f.password)
	// Ask for a compressed stream; decoding is handled below rather
	// than by the transport so zstd works too.
	req.Header.Set("Accept-Encoding", "gzip, zstd")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open stream: unexpected status %s", resp.Status)
	}

	body, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	f.logger.Info("stream connected", "url", f.url,
		"encoding", resp.Header.Get("Content-Encoding"))

	scanner := newEntryScanner(body)
	for scanner.Scan() {
		// The scanner reuses its buffer; records outlive the scan.
		raw := bytes.Clone(scanner.Bytes())

		rec := feed.Record{
			StreamID:   f.streamID,
			Raw:        raw,
			ReceivedAt: time.Now(),
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read stream: %w", err)
	}

	f.logger.Info("stream closed by remote")
	return nil
}

// decodeBody wraps the response body according to its Content-Encoding.
// Supports gzip, zstd, and identity.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	switch contentEncoding {
	case "zstd":
		dec, err := zstd.NewReader(body, zstd.WithDecoderMaxMemory(maxRecordSize))
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil

	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return gz, nil

	case "", "identity":
		return body, nil

	default:
		return nil, fmt.Errorf("unsupported Content-Encoding: %q", contentEncoding)
	}
}
