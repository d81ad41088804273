package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/sensorbridge/internal/device"
	"github.com/nerrad567/sensorbridge/internal/infrastructure/database"
	"github.com/nerrad567/sensorbridge/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: "added", DeviceID: "d1", Source: SourceRegistry, CreatedAt: base},
		{Action: "added", DeviceID: "d2", Source: SourceRegistry, CreatedAt: base.Add(time.Second)},
		{Action: "disappeared", DeviceID: "d1", Source: SourceRegistry, CreatedAt: base.Add(2 * time.Second),
			Details: map[string]any{"state": "registered", "stale": true}},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Error("Create() should assign an ID")
		}
	}

	tests := []struct {
		name       string
		filter     Filter
		wantTotal  int
		wantFirst  string
		wantLength int
	}{
		{"all", Filter{}, 3, "disappeared", 3},
		{"by device", Filter{DeviceID: "d1"}, 2, "disappeared", 2},
		{"by action", Filter{Action: "added"}, 2, "added", 2},
		{"paged", Filter{Limit: 1, Offset: 1}, 3, "added", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal || len(res.Entries) != tt.wantLength {
				t.Fatalf("total/len = %d/%d, want %d/%d", res.Total, len(res.Entries), tt.wantTotal, tt.wantLength)
			}
			if res.Entries[0].Action != tt.wantFirst {
				t.Errorf("first action = %q, want %q", res.Entries[0].Action, tt.wantFirst)
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: "disappeared"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Entries[0]
	if got.Details["stale"] != true || !got.CreatedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("entry = %+v", got)
	}
}

func TestSQLiteRepository_ListEmpty(t *testing.T) {
	res, err := openTestRepo(t).List(context.Background(), Filter{Limit: 500})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Entries == nil || len(res.Entries) != 0 {
		t.Errorf("entries = %v, want empty non-nil slice", res.Entries)
	}
	if res.Limit != maxLimit {
		t.Errorf("limit = %d, want clamped to %d", res.Limit, maxLimit)
	}
}

type failingRepo struct{ Repository }

func (failingRepo) Create(context.Context, *Entry) error { return errors.New("disk full") }

type captureLogger struct{ warnings int }

func (c *captureLogger) Warn(string, ...any) { c.warnings++ }

func TestJournal_Record(t *testing.T) {
	repo := openTestRepo(t)
	j := NewJournal(repo)

	j.Record(device.Change{
		Kind:   device.ChangeState,
		Device: device.Device{ID: "d1", Name: "plant-1", State: device.StateDeregistered},
	})

	res, err := repo.List(context.Background(), Filter{DeviceID: "d1"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("total = %d, want 1", res.Total)
	}
	e := res.Entries[0]
	if e.Action != "state" || e.Source != SourceRegistry || e.Details["state"] != "deregistered" {
		t.Errorf("entry = %+v", e)
	}

	t.Run("write failure is logged", func(t *testing.T) {
		logger := &captureLogger{}
		j := NewJournal(failingRepo{})
		j.SetLogger(logger)
		j.Record(device.Change{Kind: device.ChangeAdded, Device: device.Device{ID: "d2"}})
		if logger.warnings != 1 {
			t.Errorf("warnings = %d, want 1", logger.warnings)
		}
	})
}
