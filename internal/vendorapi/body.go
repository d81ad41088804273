package vendorapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode"
)

// Kind classifies a response body or stream frame.
type Kind int

const (
	// KindEmpty is a body with no content (e.g. 204 No Content).
	KindEmpty Kind = iota

	// KindJSON is a complete JSON object.
	KindJSON

	// KindSentinel is one of the vendor's bare status tokens.
	KindSentinel

	// KindPartial is a body that may still become a JSON object.
	KindPartial

	// KindText is non-JSON content that is not a known token.
	KindText
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindJSON:
		return "json"
	case KindSentinel:
		return "sentinel"
	case KindPartial:
		return "partial"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel is a bare status token the vendor sends instead of JSON.
type Sentinel string

// Known sentinels. The first two arrive on the notification stream, the
// rest as device request and subscription response bodies.
const (
	SentinelConcurrentPull  Sentinel = "CONCURRENT_PULL_REQUEST_RECEIVED"
	SentinelURIPathNotFound Sentinel = "URI_PATH_DOES_NOT_EXISTS"
	SentinelNotConnected    Sentinel = "NOT_CONNECTED"
	SentinelQueueFull       Sentinel = "QUEUE_IS_FULL"
	SentinelLimitsExceeded  Sentinel = "LIMITS_EXCEEDED"
)

var knownSentinels = map[Sentinel]struct{}{
	SentinelConcurrentPull:  {},
	SentinelURIPathNotFound: {},
	SentinelNotConnected:    {},
	SentinelQueueFull:       {},
	SentinelLimitsExceeded:  {},
}

// Body is a classified response body or frame.
type Body struct {
	Kind     Kind
	Raw      []byte
	Sentinel Sentinel
}

// Decode unmarshals a KindJSON body into v.
func (b Body) Decode(v any) error {
	if b.Kind != KindJSON {
		return fmt.Errorf("%w: body is %s, not json", ErrDecode, b.Kind)
	}
	if err := json.Unmarshal(b.Raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// Classify sorts data into a Kind without keeping any state.
//
// A complete object wins; otherwise an exact token match (quoted or not)
// is a sentinel; anything that opens with '{' is still partial; anything
// else is text.
func Classify(data []byte) Body {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Body{Kind: KindEmpty}
	}

	if trimmed[0] == '{' {
		if trimmed[len(trimmed)-1] == '}' && json.Valid(trimmed) {
			return Body{Kind: KindJSON, Raw: trimmed}
		}
		return Body{Kind: KindPartial, Raw: trimmed}
	}

	token := Sentinel(bytes.Trim(trimmed, `"`))
	if _, ok := knownSentinels[token]; ok {
		return Body{Kind: KindSentinel, Raw: trimmed, Sentinel: token}
	}

	return Body{Kind: KindText, Raw: trimmed}
}

// IsSentinel reports whether s is a known vendor token.
func IsSentinel(s string) bool {
	_, ok := knownSentinels[Sentinel(s)]
	return ok
}

// Accumulator buffers a body that may arrive in several chunks and only
// reports it as JSON once both object boundaries are present and the
// content parses.
//
// Thread Safety:
//   - Not safe for concurrent use. One Accumulator per response.
type Accumulator struct {
	buf   bytes.Buffer
	limit int
	last  byte // last non-space byte buffered
}

// NewAccumulator returns an Accumulator that refuses to hold more than
// limit bytes. A limit <= 0 means unbounded.
func NewAccumulator(limit int) *Accumulator {
	return &Accumulator{limit: limit}
}

// Append adds a chunk. The buffer is only classified when it ends in a
// closing brace, since nothing else can complete an object; until then
// Append reports KindPartial without Raw and Finish gives the final
// classification.
func (a *Accumulator) Append(p []byte) (Body, error) {
	if a.limit > 0 && a.buf.Len()+len(p) > a.limit {
		return Body{Kind: KindPartial}, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, a.limit)
	}
	a.buf.Write(p)
	if tail := bytes.TrimRightFunc(p, unicode.IsSpace); len(tail) > 0 {
		a.last = tail[len(tail)-1]
	}
	if a.last != '}' {
		return Body{Kind: KindPartial}, nil
	}
	return a.current(), nil
}

// Finish classifies the buffer at end of input. A body still partial at
// this point is an error.
func (a *Accumulator) Finish() (Body, error) {
	body := a.current()
	if body.Kind == KindPartial {
		return body, fmt.Errorf("%w: %d bytes buffered", ErrPartialBody, a.buf.Len())
	}
	return body, nil
}

// Len returns the number of buffered bytes.
func (a *Accumulator) Len() int {
	return a.buf.Len()
}

func (a *Accumulator) current() Body {
	b := Classify(a.buf.Bytes())
	// Raw aliases the buffer; copy so later Appends cannot change it.
	if b.Raw != nil {
		b.Raw = bytes.Clone(b.Raw)
	}
	return b
}
