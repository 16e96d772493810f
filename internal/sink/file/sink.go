// Package file provides the file-based sink. Each activity is written
// to "{out_box}/{publisher}_{native_id}.xml" containing the verbatim
// raw payload.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"edcollect/internal/activity"
	"edcollect/internal/logging"
	"edcollect/internal/sink"
)

// Sink writes activities to the out box directory. It implements
// sink.Sink.
type Sink struct {
	outBox string
	logger *slog.Logger
}

// Config holds file sink configuration.
type Config struct {
	// OutBox is the output directory; created if missing.
	OutBox string

	// Logger for structured logging.
	Logger *slog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New creates a file sink, creating the out box directory if needed.
func New(cfg Config) (*Sink, error) {
	if err := os.MkdirAll(cfg.OutBox, 0755); err != nil {
		return nil, fmt.Errorf("create out box: %w", err)
	}
	return &Sink{
		outBox: cfg.OutBox,
		logger: logging.Default(cfg.Logger).With("component", "sink", "type", "file"),
	}, nil
}

// Store writes the activity's raw payload to its file. An existing
// file for the same publisher and native id means the activity was
// already stored.
func (s *Sink) Store(ctx context.Context, act activity.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := Filename(act.Publisher, act.NativeID)
	path := filepath.Join(s.outBox, name)

	if _, err := os.Stat(path); err == nil {
		return sink.ErrDuplicate
	}

	if err := os.WriteFile(path, []byte(act.RawContent), 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	s.logger.Debug("wrote activity file", "file", name)
	return nil
}

// Filename computes the output filename for an activity. Path
// separators in the components are flattened so a hostile payload
// cannot escape the out box.
func Filename(publisher, nativeID string) string {
	clean := func(s string) string {
		s = strings.ReplaceAll(s, "/", "_")
		s = strings.ReplaceAll(s, string(filepath.Separator), "_")
		return s
	}
	return fmt.Sprintf("%s_%s.xml", clean(publisher), clean(nativeID))
}
