package activity

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ErrMalformedRecord reports a payload that is not well-formed XML.
// Records failing this way are dropped by the consumer; the pipeline
// continues.
var ErrMalformedRecord = errors.New("malformed activity record")

// Parse decodes one raw record into an Activity.
//
// The id child and the source/title child fill NativeID and Publisher;
// the first occurrence of each wins and is never overwritten. created
// fills PostedAt, object/content fills Body, and each
// matching_rules/matching_rule child appends to RuleValues (its text)
// and RuleTags (its tag attribute, set semantics).
//
// A missing optional field yields an empty string or empty collection.
// Only a payload without a well-formed top-level element is an error.
func Parse(raw []byte) (Activity, error) {
	act := Activity{
		RawContent: string(raw),
		RuleValues: []string{},
		RuleTags:   []string{},
	}

	dec := xml.NewDecoder(bytes.NewReader(raw))

	if err := seekRoot(dec); err != nil {
		return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	var idFound, publisherFound bool
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		// Every StartElement seen here is a direct child of the root:
		// each case below consumes its element through the matching end
		// tag before the loop resumes.
		switch start.Name.Local {
		case "id":
			text, err := innerText(dec)
			if err != nil {
				return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if !idFound {
				act.NativeID = text
				idFound = true
			}

		case "created":
			text, err := innerText(dec)
			if err != nil {
				return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if act.PostedAt == "" {
				act.PostedAt = text
			}

		case "source":
			title, found, err := descendantText(dec, "title")
			if err != nil {
				return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if found && !publisherFound {
				act.Publisher = firstToken(title)
				publisherFound = true
			}

		case "object":
			content, found, err := descendantText(dec, "content")
			if err != nil {
				return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			if found && act.Body == "" {
				act.Body = content
			}

		case "matching_rules":
			if err := parseMatchingRules(dec, &act); err != nil {
				return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}

		default:
			if err := dec.Skip(); err != nil {
				return Activity{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
		}
	}

	return act, nil
}

// seekRoot advances the decoder to just past the top-level start
// element, erroring if none exists.
func seekRoot(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return errors.New("no top-level element")
		}
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			return nil
		}
	}
}

// innerText consumes the current element through its end tag and
// returns all character data inside it, at any depth.
func innerText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return sb.String(), nil
}

// descendantText consumes the current element and returns the inner
// text of its first descendant with the given local name.
func descendantText(dec *xml.Decoder, name string) (text string, found bool, err error) {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !found && t.Name.Local == name {
				inner, err := innerText(dec)
				if err != nil {
					return "", false, err
				}
				text = inner
				found = true
				continue // innerText consumed the end tag
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return text, found, nil
}

// parseMatchingRules consumes a matching_rules element, appending every
// matching_rule child's text to RuleValues and its tag attribute to
// RuleTags when not already present.
func parseMatchingRules(dec *xml.Decoder, act *Activity) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 1 && t.Name.Local == "matching_rule" {
				text, err := innerText(dec)
				if err != nil {
					return err
				}
				act.RuleValues = append(act.RuleValues, text)

				for _, attr := range t.Attr {
					if attr.Name.Local != "tag" {
						continue
					}
					if !slices.Contains(act.RuleTags, attr.Value) {
						act.RuleTags = append(act.RuleTags, attr.Value)
					}
				}
				continue // innerText consumed the end tag
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

// firstToken returns the first whitespace-delimited token of s.
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
