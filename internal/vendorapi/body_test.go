package vendorapi

import (
	"errors"
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantKind     Kind
		wantSentinel Sentinel
	}{
		{"empty", "", KindEmpty, ""},
		{"whitespace", " \r\n", KindEmpty, ""},
		{"object", `{"a":1}`, KindJSON, ""},
		{"object with whitespace", "\n {\"a\":1} \n", KindJSON, ""},
		{"open object", `{"a":`, KindPartial, ""},
		{"closing brace but incomplete", `{"a":{}`, KindPartial, ""},
		{"concurrent pull", "CONCURRENT_PULL_REQUEST_RECEIVED", KindSentinel, SentinelConcurrentPull},
		{"quoted sentinel", `"URI_PATH_DOES_NOT_EXISTS"`, KindSentinel, SentinelURIPathNotFound},
		{"not connected", "NOT_CONNECTED", KindSentinel, SentinelNotConnected},
		{"queue full", "QUEUE_IS_FULL", KindSentinel, SentinelQueueFull},
		{"limits exceeded", "LIMITS_EXCEEDED", KindSentinel, SentinelLimitsExceeded},
		{"unknown token", "SOMETHING_ELSE", KindText, ""},
		{"array", `[{"uri":"/1"}]`, KindText, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify([]byte(tt.input))
			if got.Kind != tt.wantKind {
				t.Errorf("Classify(%q).Kind = %v, want %v", tt.input, got.Kind, tt.wantKind)
			}
			if got.Sentinel != tt.wantSentinel {
				t.Errorf("Classify(%q).Sentinel = %q, want %q", tt.input, got.Sentinel, tt.wantSentinel)
			}
		})
	}
}

const devicePageBody = `{"object":"list","limit":2,"has_more":false,"after":null,
"data":[{"id":"016e0001","name":"plant-1","state":"registered"},
{"id":"016e0002","name":"plant-2","state":"deregistered"}]}`

// A body split at any byte and fed as two chunks decodes to the same
// device set as the whole body fed at once.
func TestAccumulator_SplitMatchesWhole(t *testing.T) {
	whole := NewAccumulator(0)
	body, err := whole.Append([]byte(devicePageBody))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	want, err := DecodeDevicePage(body)
	if err != nil {
		t.Fatalf("DecodeDevicePage(whole) error = %v", err)
	}
	if len(want.Data) != 2 {
		t.Fatalf("whole decode has %d devices, want 2", len(want.Data))
	}

	for split := 0; split <= len(devicePageBody); split++ {
		acc := NewAccumulator(0)
		first, err := acc.Append([]byte(devicePageBody[:split]))
		if err != nil {
			t.Fatalf("split %d: first Append() error = %v", split, err)
		}
		if split < len(devicePageBody) && first.Kind == KindJSON {
			t.Fatalf("split %d: prefix classified as complete JSON", split)
		}

		if _, err := acc.Append([]byte(devicePageBody[split:])); err != nil {
			t.Fatalf("split %d: second Append() error = %v", split, err)
		}
		body, err := acc.Finish()
		if err != nil {
			t.Fatalf("split %d: Finish() error = %v", split, err)
		}
		got, err := DecodeDevicePage(body)
		if err != nil {
			t.Fatalf("split %d: decode error = %v", split, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("split %d: got %+v, want %+v", split, got, want)
		}
	}
}

func TestAccumulator_ClassifiesOnClosingBrace(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		wantLast Kind // Append result for the final chunk
		wantEnd  Kind // Finish result
	}{
		{"object split mid-value", []string{`{"a":`, `1`, `}`}, KindJSON, KindJSON},
		{"trailing whitespace chunk", []string{`{"a":1}`, "  \n"}, KindJSON, KindJSON},
		{"brace inside string", []string{`{"a":"}`, `"}`}, KindJSON, KindJSON},
		{"unterminated object", []string{`{"a":"}`}, KindPartial, KindPartial},
		{"sentinel deferred to finish", []string{`QUEUE_IS_`, `FULL`}, KindPartial, KindSentinel},
		{"text deferred to finish", []string{`oops`}, KindPartial, KindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator(0)
			var last Body
			for _, c := range tt.chunks {
				b, err := acc.Append([]byte(c))
				if err != nil {
					t.Fatalf("Append(%q) error = %v", c, err)
				}
				last = b
			}
			if last.Kind != tt.wantLast {
				t.Errorf("last Append().Kind = %v, want %v", last.Kind, tt.wantLast)
			}
			if last.Kind == KindPartial && last.Raw != nil {
				t.Errorf("partial Append() carried Raw %q", last.Raw)
			}
			end, _ := acc.Finish() //nolint:errcheck // kind is what is checked
			if end.Kind != tt.wantEnd {
				t.Errorf("Finish().Kind = %v, want %v", end.Kind, tt.wantEnd)
			}
		})
	}
}

func TestAccumulator_PartialAtEOF(t *testing.T) {
	acc := NewAccumulator(0)
	if _, err := acc.Append([]byte(`{"data":[`)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	body, err := acc.Finish()
	if !errors.Is(err, ErrPartialBody) {
		t.Errorf("Finish() error = %v, want ErrPartialBody", err)
	}
	if body.Kind != KindPartial {
		t.Errorf("Finish().Kind = %v, want partial", body.Kind)
	}
}

func TestAccumulator_Limit(t *testing.T) {
	acc := NewAccumulator(8)
	if _, err := acc.Append([]byte("{\"a\":")); err != nil {
		t.Fatalf("Append() within limit error = %v", err)
	}
	if _, err := acc.Append([]byte("\"long\"}")); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Append() over limit error = %v, want ErrBodyTooLarge", err)
	}
}

func TestAccumulator_RawIsStable(t *testing.T) {
	acc := NewAccumulator(0)
	body, _ := acc.Append([]byte(`{"a":1}`))
	raw := string(body.Raw)

	acc.Append([]byte(`garbage`)) //nolint:errcheck // only checking aliasing

	if string(body.Raw) != raw {
		t.Errorf("Raw changed after Append: %q -> %q", raw, body.Raw)
	}
}

func TestBody_Decode(t *testing.T) {
	var v struct {
		ID string `json:"async-response-id"`
	}
	if err := Classify([]byte(`{"async-response-id":"abc"}`)).Decode(&v); err != nil || v.ID != "abc" {
		t.Errorf("Decode() = %v, id %q", err, v.ID)
	}
	if err := Classify([]byte("NOT_CONNECTED")).Decode(&v); !errors.Is(err, ErrDecode) {
		t.Errorf("Decode(sentinel) error = %v, want ErrDecode", err)
	}
}
