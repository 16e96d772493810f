package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// probeServer fakes the data collector api_help endpoints. Pages maps
// stream id to the body served for it; missing ids get a "Not Found"
// body. Ids listed in broken get their connection dropped mid-request.
func probeServer(t *testing.T, pages map[int]string, broken map[int]bool) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var probes atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)

		var id int
		if _, err := fmt.Sscanf(r.URL.Path, "/%d/api_help", &id); err != nil {
			t.Errorf("unexpected probe path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}

		if broken[id] {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}

		body, ok := pages[id]
		if !ok {
			body = "<html><body>Error 404: Not Found</body></html>"
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, &probes
}

func TestDiscoveryFindsActiveStreams(t *testing.T) {
	srv, probes := probeServer(t, map[int]string{
		1: `<html><head><title>Acme Corp: Stream #1 (prod)!</title></head></html>`,
		3: `<html><head><title>Beta-Feed Two</title></head></html>`,
	}, nil)

	dir := New(Config{
		BaseURL:  srv.URL,
		UserName: "user",
		Password: "pass",
		Limit:    5,
	})

	streams, err := dir.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if probes.Load() != 5 {
		t.Errorf("probed %d endpoints, want exactly 5", probes.Load())
	}
	if len(streams) != 2 {
		t.Fatalf("found %d streams, want 2: %+v", len(streams), streams)
	}

	if streams[0].ID != 1 || streams[0].Name != "Acme Corp Stream 1 prod" {
		t.Errorf("stream 0 = %+v, want normalized Acme title", streams[0])
	}
	if streams[0].Publisher != "Acme" {
		t.Errorf("publisher = %q, want Acme", streams[0].Publisher)
	}
	if streams[1].ID != 3 || streams[1].Name != "Beta Feed Two" {
		t.Errorf("stream 1 = %+v, want normalized Beta title", streams[1])
	}
}

func TestDiscoveryRespectsLimit(t *testing.T) {
	// An active stream beyond the limit must never be probed.
	srv, probes := probeServer(t, map[int]string{
		4: `<html><head><title>Hidden Stream</title></head></html>`,
	}, nil)

	dir := New(Config{BaseURL: srv.URL, Limit: 3})
	streams, err := dir.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if probes.Load() != 3 {
		t.Errorf("probed %d endpoints, want exactly 3", probes.Load())
	}
	if len(streams) != 0 {
		t.Errorf("found %d streams, want 0", len(streams))
	}
}

func TestDiscoveryClassifiesNotFoundCaseInsensitively(t *testing.T) {
	srv, _ := probeServer(t, map[int]string{
		1: `<html><head><title>Gone</title></head><body>NOT FOUND</body></html>`,
		2: `<html><head><title>Still Here</title></head><body>ok</body></html>`,
	}, nil)

	dir := New(Config{BaseURL: srv.URL, Limit: 2})
	streams, err := dir.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(streams) != 1 || streams[0].ID != 2 {
		t.Fatalf("streams = %+v, want only id 2", streams)
	}
}

func TestDiscoveryTreatsTransportErrorAsInactive(t *testing.T) {
	srv, probes := probeServer(t, map[int]string{
		1: `<html><head><title>One</title></head></html>`,
		3: `<html><head><title>Three</title></head></html>`,
	}, map[int]bool{2: true})

	dir := New(Config{BaseURL: srv.URL, Limit: 3})
	streams, err := dir.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if probes.Load() != 3 {
		t.Errorf("probed %d endpoints, want 3 (scan continues past errors)", probes.Load())
	}
	if len(streams) != 2 {
		t.Fatalf("streams = %+v, want ids 1 and 3", streams)
	}
}

func TestDiscoverySendsBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	var gotAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotAuth = r.BasicAuth()
		fmt.Fprint(w, `<html><head><title>Authed</title></head></html>`)
	}))
	defer srv.Close()

	dir := New(Config{BaseURL: srv.URL, UserName: "collector", Password: "hunter2", Limit: 1})
	if _, err := dir.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !gotAuth || gotUser != "collector" || gotPass != "hunter2" {
		t.Errorf("basic auth = (%q, %q, %v), want (collector, hunter2, true)", gotUser, gotPass, gotAuth)
	}
}

func TestStaticStreamsSkipDiscovery(t *testing.T) {
	srv, probes := probeServer(t, nil, nil)

	dir := New(Config{
		BaseURL: srv.URL,
		Limit:   5,
		Static: []StaticStream{
			{ID: 7, Name: "Acme Corp primary"},
			{ID: 9, Name: "SoloName"},
		},
	})

	streams, err := dir.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if probes.Load() != 0 {
		t.Errorf("probed %d endpoints, want 0 when streams are configured", probes.Load())
	}
	if len(streams) != 2 {
		t.Fatalf("streams = %+v, want 2", streams)
	}
	if streams[0].Publisher != "Acme" {
		t.Errorf("publisher = %q, want Acme", streams[0].Publisher)
	}
	if streams[1].Publisher != "SoloName" {
		t.Errorf("publisher = %q, want SoloName", streams[1].Publisher)
	}
	// Static names pass through verbatim, no normalization.
	if streams[0].Name != "Acme Corp primary" {
		t.Errorf("name = %q, want verbatim config value", streams[0].Name)
	}
}

func TestDiscoveryStopsOnContextCancel(t *testing.T) {
	srv, _ := probeServer(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := New(Config{BaseURL: srv.URL, Limit: 5})
	if _, err := dir.Resolve(ctx); err == nil {
		t.Error("expected context error from cancelled discovery")
	}
}

func TestPageTitleNested(t *testing.T) {
	body := `<!DOCTYPE html><html><head><meta charset="utf-8"><title>Deep Title</title></head><body><p>x</p></body></html>`
	if got := pageTitle(body); got != "Deep Title" {
		t.Errorf("pageTitle = %q, want Deep Title", got)
	}

	if got := pageTitle("<html><body>no title</body></html>"); got != "" {
		t.Errorf("pageTitle = %q, want empty", got)
	}
}

func TestPublisherOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Acme Corp stream", "Acme"},
		{"  Padded Name", "Padded"},
		{"Single", "Single"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := publisherOf(tt.in); got != tt.want {
			t.Errorf("publisherOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizationCollapsesNonWordRuns(t *testing.T) {
	in := "A!!B--C  D__E"
	got := strings.TrimSpace(nonWord.ReplaceAllString(in, " "))
	// Underscore is a word character and must survive.
	if got != "A B C D__E" {
		t.Errorf("normalized = %q, want %q", got, "A B C D__E")
	}
}
