package router

import (
	"fmt"
	"testing"

	"github.com/nerrad567/sensorbridge/internal/correlator"
	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/store"
)

type fakeSink struct {
	calls []string
}

func (f *fakeSink) SetLatest(deviceID, lane, value string) {
	f.calls = append(f.calls, fmt.Sprintf("latest %s %s %s", deviceID, lane, value))
}
func (f *fakeSink) SetInfo(deviceID, lane string, _ store.EndpointInfo) {
	f.calls = append(f.calls, "info "+deviceID+" "+lane)
}
func (f *fakeSink) SetAsyncID(deviceID, lane, id string) {
	f.calls = append(f.calls, "async "+deviceID+" "+lane+" "+id)
}
func (f *fakeSink) CreateDevice(info store.DeviceInfo) {
	f.calls = append(f.calls, "device "+info.ID)
}

type fakeRefresher struct {
	diff, full int
}

func (f *fakeRefresher) RequestRefresh(full bool) {
	if full {
		f.full++
		return
	}
	f.diff++
}

func testCatalog(t *testing.T) *device.Catalog {
	t.Helper()
	c, err := device.NewCatalog([]device.EndpointTemplate{
		{Lane: "soil", URI: "/3200/0/5700", Enabled: true},
		{Lane: "temp", URI: "/3203/0/5512", Enabled: true},
	}, nil, true)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return c
}

func newTestRouter(t *testing.T) (*Router, *correlator.Correlator, *fakeRefresher, *fakeSink) {
	t.Helper()
	corr := correlator.New()
	ref := &fakeRefresher{}
	sink := &fakeSink{}
	return New(testCatalog(t), corr, ref, sink), corr, ref, sink
}

func TestHandleFrame_Notifications(t *testing.T) {
	r, _, ref, sink := newTestRouter(t)

	r.HandleFrame([]byte(`{"notifications":[{"path":"/3200/0/5700","payload":"MTIz","ep":"dev1"}]}`))

	if len(sink.calls) != 1 || sink.calls[0] != "latest dev1 soil 123" {
		t.Errorf("sink calls = %v, want [latest dev1 soil 123]", sink.calls)
	}
	if ref.diff+ref.full != 0 {
		t.Error("notification frame should not refresh the registry")
	}
}

func TestHandleFrame_NotificationBatchSkipsBadEntries(t *testing.T) {
	r, _, _, sink := newTestRouter(t)

	r.HandleFrame([]byte(`{"notifications":[
		{"path":"/9999/0/1","payload":"MQ==","ep":"dev1"},
		{"path":"","payload":"MQ==","ep":"dev1"},
		{"path":"/3203/0/5512","payload":"!!notb64","ep":"dev1"},
		{"path":"/3203/0/5512","payload":"MjEuNQ==","ep":"dev2"}
	]}`))

	if len(sink.calls) != 1 || sink.calls[0] != "latest dev2 temp 21.5" {
		t.Errorf("sink calls = %v, want only dev2 temp", sink.calls)
	}
	s := r.GetStats()
	if s.EndpointMisses != 1 || s.DecodeErrors != 1 || s.Forwarded != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHandleFrame_Sentinels(t *testing.T) {
	frames := []string{
		"CONCURRENT_PULL_REQUEST_RECEIVED",
		`"CONCURRENT_PULL_REQUEST_RECEIVED"`,
		"URI_PATH_DOES_NOT_EXISTS",
	}
	for _, f := range frames {
		t.Run(f, func(t *testing.T) {
			r, _, ref, sink := newTestRouter(t)
			r.HandleFrame([]byte(f))
			if len(sink.calls) != 0 {
				t.Errorf("sink calls = %v, want none", sink.calls)
			}
			if ref.diff+ref.full != 0 {
				t.Error("sentinel should not refresh")
			}
			if r.GetStats().Sentinels != 1 {
				t.Errorf("Sentinels = %d, want 1", r.GetStats().Sentinels)
			}
		})
	}
}

func TestHandleFrame_RegistrationKeys(t *testing.T) {
	keys := []string{"registrations", "reg-updates", "de-registrations", "registrations-expired"}
	for _, k := range keys {
		t.Run(k, func(t *testing.T) {
			r, _, ref, sink := newTestRouter(t)
			r.HandleFrame([]byte(fmt.Sprintf(`{%q:[{"ep":"dev1"},{"ep":"dev2"}]}`, k)))

			if ref.diff != 1 || ref.full != 0 {
				t.Errorf("refreshes diff/full = %d/%d, want 1/0", ref.diff, ref.full)
			}
			if len(sink.calls) != 0 {
				t.Errorf("sink calls = %v, want none", sink.calls)
			}
		})
	}

	t.Run("several registration keys refresh once", func(t *testing.T) {
		r, _, ref, _ := newTestRouter(t)
		r.HandleFrame([]byte(`{"registrations":[{"ep":"a"}],"de-registrations":["b"]}`))
		if ref.diff != 1 {
			t.Errorf("refreshes = %d, want 1", ref.diff)
		}
	})
}

func TestHandleFrame_AsyncResponses(t *testing.T) {
	r, corr, _, sink := newTestRouter(t)
	if err := corr.Register("a-1", "dev1", "/3203/0/5512", "", correlator.KindInitialRead); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	frame := []byte(`{"async-responses":[{"id":"a-1","status":200,"payload":"MjI="}]}`)
	r.HandleFrame(frame)
	if len(sink.calls) != 1 || sink.calls[0] != "latest dev1 temp 22" {
		t.Fatalf("sink calls = %v, want [latest dev1 temp 22]", sink.calls)
	}

	// Redelivery of the same id is a miss.
	r.HandleFrame(frame)
	if len(sink.calls) != 1 {
		t.Errorf("sink calls = %v, want no second forward", sink.calls)
	}
	if r.GetStats().CorrelationMisses != 1 {
		t.Errorf("CorrelationMisses = %d, want 1", r.GetStats().CorrelationMisses)
	}
}

func TestHandleFrame_AsyncResponseVariants(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  []string
	}{
		{
			name:  "single unnamed key",
			frame: `{"responses":[{"id":"x","status":200,"payload":"NQ=="}]}`,
			want:  []string{"latest dev1 soil 5"},
		},
		{
			name:  "entry ep wins",
			frame: `{"async-responses":[{"id":"x","ep":"dev9","status":200,"payload":"NQ=="}]}`,
			want:  []string{"latest dev9 soil 5"},
		},
		{
			name:  "failed status",
			frame: `{"async-responses":[{"id":"x","status":504,"error":"TIMEOUT","payload":""}]}`,
		},
		{
			name:  "empty payload",
			frame: `{"async-responses":[{"id":"x","status":200,"payload":""}]}`,
		},
		{
			name:  "unknown id",
			frame: `{"async-responses":[{"id":"nope","status":200,"payload":"NQ=="}]}`,
		},
		{
			name:  "ambiguous keys",
			frame: `{"a":[],"b":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, corr, _, sink := newTestRouter(t)
			if err := corr.Register("x", "dev1", "/3200/0/5700", "", correlator.KindCommand); err != nil {
				t.Fatalf("Register() error = %v", err)
			}
			r.HandleFrame([]byte(tt.frame))
			if len(sink.calls) != len(tt.want) {
				t.Fatalf("sink calls = %v, want %v", sink.calls, tt.want)
			}
			for i := range tt.want {
				if sink.calls[i] != tt.want[i] {
					t.Errorf("call[%d] = %q, want %q", i, sink.calls[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleFrame_DeviceLaneOverridesTemplate(t *testing.T) {
	catalog, err := device.NewCatalog(
		[]device.EndpointTemplate{{Lane: "soil", URI: "/3203/0/5511", Enabled: true}},
		map[string][]device.EndpointTemplate{"dev2": {{Lane: "moisture", URI: "/3203/0/5511", Enabled: true}}},
		true,
	)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}

	tests := []struct {
		name  string
		lane  string // lane recorded when the request was issued
		frame string
		want  string
	}{
		{
			name:  "async response uses issued lane",
			lane:  "moisture",
			frame: `{"async-responses":[{"id":"a1","status":200,"payload":"MTIz"}]}`,
			want:  "latest dev2 moisture 123",
		},
		{
			name:  "async response without lane uses device list",
			frame: `{"async-responses":[{"id":"a1","status":200,"payload":"MTIz"}]}`,
			want:  "latest dev2 moisture 123",
		},
		{
			name:  "notification uses device list",
			frame: `{"notifications":[{"ep":"dev2","path":"/3203/0/5511","payload":"MTIz"}]}`,
			want:  "latest dev2 moisture 123",
		},
		{
			name:  "fleet device keeps template lane",
			frame: `{"notifications":[{"ep":"dev7","path":"/3203/0/5511","payload":"MTIz"}]}`,
			want:  "latest dev7 soil 123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corr := correlator.New()
			sink := &fakeSink{}
			r := New(catalog, corr, &fakeRefresher{}, sink)
			if err := corr.Register("a1", "dev2", "/3203/0/5511", tt.lane, correlator.KindCommand); err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			r.HandleFrame([]byte(tt.frame))
			if len(sink.calls) != 1 || sink.calls[0] != tt.want {
				t.Errorf("sink calls = %v, want [%s]", sink.calls, tt.want)
			}
		})
	}
}

func TestHandleFrame_Malformed(t *testing.T) {
	frames := []string{
		`{"notifications":[`,
		`not json at all`,
		`{"notifications":"wrong type"}`,
		``,
	}
	for _, f := range frames {
		r, _, ref, sink := newTestRouter(t)
		r.HandleFrame([]byte(f))
		if len(sink.calls) != 0 || ref.diff+ref.full != 0 {
			t.Errorf("frame %q produced side effects: %v", f, sink.calls)
		}
	}
}
