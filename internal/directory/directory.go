// Package directory resolves the set of streams the collector consumes.
//
// Streams either come verbatim from static configuration or are
// discovered by probing a bounded range of candidate endpoint ids.
package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"edcollect/internal/logging"
)

// maxProbeBody caps how much of a probe response is inspected.
const maxProbeBody = 1 << 20

// nonWord matches every maximal run of non-word characters, which
// discovery collapses to a single space in stream names.
var nonWord = regexp.MustCompile(`\W+`)

// Stream identifies one ingestible stream. Immutable once resolved.
type Stream struct {
	ID        int
	Name      string
	Publisher string
}

// StaticStream is a stream definition taken from configuration.
type StaticStream struct {
	ID   int
	Name string
}

// Config holds directory settings.
type Config struct {
	// BaseURL is the data collector root, e.g.
	// "https://acme.gnip.com/data_collectors".
	BaseURL string

	// UserName and Password authenticate discovery probes (basic auth).
	UserName string
	Password string

	// Limit bounds discovery: ids 1..Limit are probed, nothing beyond.
	// Streams with higher ids are never discovered even if active; this
	// scanning window is deliberate and configurable.
	Limit int

	// Static streams skip discovery entirely when non-empty.
	Static []StaticStream

	// Client is the HTTP client for probes. A default with a 30s
	// timeout is used when nil.
	Client *http.Client

	// Logger for structured logging.
	Logger *slog.Logger
}

// Directory resolves stream definitions.
type Directory struct {
	baseURL  string
	userName string
	password string
	limit    int
	static   []StaticStream
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Directory.
func New(cfg Config) *Directory {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Directory{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		userName: cfg.UserName,
		password: cfg.Password,
		limit:    cfg.Limit,
		static:   cfg.Static,
		client:   client,
		logger:   logging.Default(cfg.Logger).With("component", "directory"),
	}
}

// Resolve returns the ordered set of streams to consume. Statically
// configured streams are returned verbatim, each with the publisher
// derived from the first whitespace-delimited token of its name.
// Otherwise streams are discovered by probing candidate endpoints.
func (d *Directory) Resolve(ctx context.Context) ([]Stream, error) {
	if len(d.static) > 0 {
		streams := make([]Stream, 0, len(d.static))
		for _, s := range d.static {
			streams = append(streams, Stream{
				ID:        s.ID,
				Name:      s.Name,
				Publisher: publisherOf(s.Name),
			})
		}
		d.logger.Info("using configured streams", "count", len(streams))
		return streams, nil
	}
	return d.discover(ctx)
}

// discover probes candidate ids 1..limit sequentially, best-effort. A
// probe error or a "not found" body marks the id inactive and the scan
// continues; there are no retries.
func (d *Directory) discover(ctx context.Context) ([]Stream, error) {
	d.logger.Info("probing endpoints for active streams", "limit", d.limit)

	var streams []Stream
	for id := 1; id <= d.limit; id++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := d.probe(ctx, id)
		if err != nil {
			d.logger.Debug("probe failed, treating as inactive", "id", id, "error", err)
			continue
		}
		if strings.Contains(strings.ToLower(body), "not found") {
			continue
		}

		title := pageTitle(body)
		if title == "" {
			d.logger.Debug("active endpoint without a page title, skipping", "id", id)
			continue
		}

		name := strings.TrimSpace(nonWord.ReplaceAllString(title, " "))
		d.logger.Info("found stream", "id", id, "name", name)
		streams = append(streams, Stream{
			ID:        id,
			Name:      name,
			Publisher: publisherOf(name),
		})
	}

	d.logger.Info("discovery finished", "found", len(streams))
	return streams, nil
}

// probe issues a basic-auth GET against the id's api_help endpoint and
// returns the response body.
func (d *Directory) probe(ctx context.Context, id int) (string, error) {
	url := fmt.Sprintf("%s/%d/api_help", d.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.userName, d.password)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// pageTitle extracts the text of the first <title> element, or "".
func pageTitle(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = sb.String()
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return title
}

// publisherOf derives the publisher from a stream name: its first
// whitespace-delimited token.
func publisherOf(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
