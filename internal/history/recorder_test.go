package history

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prite36/multichannel-irrigation/internal/config"
	"github.com/prite36/multichannel-irrigation/internal/irrigation"
	"github.com/prite36/multichannel-irrigation/internal/models"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}
	r := NewRecorder(db, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC) }
	return r
}

func TestRecorderStartAndCompletion(t *testing.T) {
	r := newTestRecorder(t)
	start := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

	r.HandleEvent(irrigation.Event{Type: irrigation.EventStarted, Channel: 2, Source: irrigation.SourceSchedule, Slot: 3, Planned: 30 * time.Minute, At: start})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventStopped, Channel: 2, Source: irrigation.SourceSchedule, Reason: irrigation.ReasonCompleted, Slot: -1, Planned: 30 * time.Minute, Elapsed: 30 * time.Minute, At: start.Add(30 * time.Minute)})

	rows, err := r.Recent(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Channel != 2 || row.TriggeredBy != "schedule" || row.Status != models.StatusCompleted {
		t.Errorf("unexpected row: %+v", row)
	}
	if row.Slot == nil || *row.Slot != 3 {
		t.Errorf("Expected slot 3, got %v", row.Slot)
	}
	if row.Duration != 30 || row.RanSeconds != 1800 {
		t.Errorf("Expected 30 minutes planned and 1800s ran, got %d / %d", row.Duration, row.RanSeconds)
	}
	if row.EndedAt == nil || !row.EndedAt.Equal(start.Add(30*time.Minute)) {
		t.Errorf("unexpected end time: %v", row.EndedAt)
	}
}

func TestRecorderRestartClosesPreviousRow(t *testing.T) {
	r := newTestRecorder(t)

	r.HandleEvent(irrigation.Event{Type: irrigation.EventStarted, Channel: 1, Source: irrigation.SourceManual, Slot: -1, Planned: 30 * time.Minute})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventStarted, Channel: 1, Source: irrigation.SourceRemote, Slot: -1, Planned: 10 * time.Minute, Restart: true})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventStopped, Channel: 1, Source: irrigation.SourceRemote, Reason: irrigation.ReasonStopped, Slot: -1, Elapsed: 90 * time.Second})

	rows, err := r.Recent(context.Background(), 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Status != models.StatusStopped || rows[0].TriggeredBy != "remote" || rows[0].RanSeconds != 90 {
		t.Errorf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].Status != models.StatusRestarted || rows[1].Slot != nil {
		t.Errorf("unexpected replaced row: %+v", rows[1])
	}
}

func TestRecorderSafetyTimeout(t *testing.T) {
	r := newTestRecorder(t)

	r.HandleEvent(irrigation.Event{Type: irrigation.EventStarted, Channel: 4, Source: irrigation.SourceManual, Slot: -1, Planned: 240 * time.Minute})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventSafetyTimeout, Channel: 4, Slot: -1, Message: "safety timeout triggered on channel 4"})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventStopped, Channel: 4, Reason: irrigation.ReasonSafetyTimeout, Slot: -1, Elapsed: 5 * time.Hour})

	rows, _ := r.Recent(context.Background(), 4, 10)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].Status != models.StatusSafetyTimeout || rows[0].Notes != "safety timeout triggered on channel 4" {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestRecorderSkipsAndFaults(t *testing.T) {
	r := newTestRecorder(t)

	r.HandleEvent(irrigation.Event{Type: irrigation.EventSkipped, Channel: 1, Source: irrigation.SourceSchedule, Slot: 0, Planned: 20 * time.Minute, Message: "channel already running"})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventFault, Channel: 3, Slot: -1, Message: "line busy"})
	r.HandleEvent(irrigation.Event{Type: irrigation.EventStopped, Channel: 2, Reason: irrigation.ReasonStopped, Slot: -1})

	rows, _ := r.Recent(context.Background(), 0, 0)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Status != models.StatusFailed || rows[0].Channel != 3 || rows[0].Notes != "line busy" {
		t.Errorf("unexpected fault row: %+v", rows[0])
	}
	if rows[1].Status != models.StatusSkipped || rows[1].Duration != 20 {
		t.Errorf("unexpected skip row: %+v", rows[1])
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Backend: "none"}}
	db, err := Connect(cfg)
	if err != nil || db != nil {
		t.Errorf("Expected no database, got %v (%v)", db, err)
	}
	if err := Close(nil); err != nil {
		t.Errorf("Close(nil): %v", err)
	}
}

func TestConnectSQLite(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Backend: "sqlite", SQLitePath: t.TempDir() + "/history.db"}}
	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(db)
	if !db.Migrator().HasTable(&models.IrrigationHistory{}) {
		t.Error("history table not migrated")
	}
}

func TestConnectUnknownBackend(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Backend: "oracle"}}
	if _, err := Connect(cfg); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
