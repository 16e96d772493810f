// Package sink defines the persistence target abstraction. A Sink
// durably stores each activity at most once per native id.
//
// The sink implementation is selected once at startup from the
// configured storage mode; callers never branch on the mode again.
package sink

import (
	"context"
	"errors"

	"edcollect/internal/activity"
)

// ErrDuplicate reports that an activity's native id is already stored.
// It is an idempotent skip, not a failure; callers log it and move on.
var ErrDuplicate = errors.New("activity already stored")

// Sink durably stores parsed activities.
//
// The pipeline serializes all Store calls through its single consumer;
// implementations may rely on that for their fast-path duplicate
// checks, but the durable de-duplication guarantee must not depend
// on it.
type Sink interface {
	// Store persists one activity. Returns ErrDuplicate when the
	// native id is already stored.
	Store(ctx context.Context, act activity.Activity) error
}
