package http

import (
	"bufio"
	"bytes"
	"io"
)

// newEntryScanner returns a scanner that yields one complete
// <entry>...</entry> document per token. Bytes between documents
// (keep-alive whitespace, feed framing) are discarded.
func newEntryScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, scanBufferSize), maxRecordSize)
	scanner.Split(splitEntries)
	return scanner
}

// splitEntries is a bufio.SplitFunc that extracts complete entry
// documents from the stream.
func splitEntries(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, entryOpen)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// No opening tag yet. Discard everything except a tail that
		// could be the beginning of one split across reads.
		if keep := len(entryOpen) - 1; len(data) > keep {
			return len(data) - keep, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start:], entryClose)
	if end < 0 {
		if atEOF {
			// Truncated final document; drop it.
			return len(data), nil, nil
		}
		// Discard the junk before the opening tag and wait for more.
		return start, nil, nil
	}

	stop := start + end + len(entryClose)
	return stop, data[start:stop], nil
}
