package audit

import (
	"context"
	"time"

	"github.com/nerrad567/sensorbridge/internal/device"
)

// SourceRegistry marks entries written from registry change callbacks.
const SourceRegistry = "registry"

const writeTimeout = 5 * time.Second

// Logger defines the logging interface for the journal.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Journal turns registry changes into audit entries.
// Wire Record with device.Registry.SetOnChange.
type Journal struct {
	repo   Repository
	logger Logger
}

// NewJournal creates a journal writing to repo.
func NewJournal(repo Repository) *Journal {
	return &Journal{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for write failures.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// Record writes one entry for the change. Failures are logged, never
// returned: the journal must not hold up a registry refresh.
func (j *Journal) Record(ch device.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	d := ch.Device
	e := &Entry{
		Action:   string(ch.Kind),
		DeviceID: d.ID,
		Source:   SourceRegistry,
		Details: map[string]any{
			"name":  d.Name,
			"state": string(d.State),
			"stale": d.Stale,
		},
	}
	if err := j.repo.Create(ctx, e); err != nil {
		j.logger.Warn("audit write failed", "device_id", d.ID, "action", e.Action, "error", err)
	}
}
