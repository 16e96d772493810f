// Package activity defines the parsed activity record and the parser
// that extracts it from raw normalized Activity Stream XML.
package activity

// Activity is the structured record extracted from one raw payload.
// It is created once per raw record, handed to exactly one sink call,
// and not retained afterwards.
type Activity struct {
	// NativeID is the durable de-duplication key.
	NativeID string

	// PostedAt is the activity timestamp as it appeared in the payload.
	PostedAt string

	// RawContent is the entire original payload, preserved verbatim
	// regardless of storage target.
	RawContent string

	// Body is the activity object's content text.
	Body string

	// Publisher is the first whitespace token of the source title.
	Publisher string

	// RuleValues holds every matching rule's text, duplicates allowed,
	// order preserved.
	RuleValues []string

	// RuleTags holds matching rule tag attributes, insertion-order
	// unique.
	RuleTags []string
}
