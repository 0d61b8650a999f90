package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
	"github.com/prite36/multichannel-irrigation/internal/models"
)

// Recorder turns controller events into history rows. A start opens a row per
// channel and the matching stop closes it.
type Recorder struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time

	mu   sync.Mutex
	open map[int]uint
}

func NewRecorder(db *gorm.DB, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
		open:   make(map[int]uint),
	}
}

// HandleEvent records e. Database errors are logged, never returned; history
// must not interfere with valve control.
func (r *Recorder) HandleEvent(e irrigation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	at := e.At
	if at.IsZero() {
		at = r.now()
	}

	var err error
	switch e.Type {
	case irrigation.EventStarted:
		err = r.started(e, at)
	case irrigation.EventStopped:
		err = r.stopped(e, at)
	case irrigation.EventSafetyTimeout:
		err = r.annotate(e.Channel, e.Message)
	case irrigation.EventSkipped:
		err = r.insert(&models.IrrigationHistory{
			Channel:     e.Channel,
			TriggeredBy: string(e.Source),
			Slot:        slotOf(e),
			Status:      models.StatusSkipped,
			Duration:    minutes(e.Planned),
			Notes:       e.Message,
		})
	case irrigation.EventFault:
		err = r.insert(&models.IrrigationHistory{
			Channel:     e.Channel,
			TriggeredBy: string(e.Source),
			StartedAt:   &at,
			EndedAt:     &at,
			Status:      models.StatusFailed,
			Notes:       e.Message,
		})
	}
	if err != nil {
		r.logger.Error().Err(err).Str("event", string(e.Type)).Int("channel", e.Channel).Msg("failed to record history")
	}
}

func (r *Recorder) started(e irrigation.Event, at time.Time) error {
	if id, ok := r.open[e.Channel]; ok {
		if err := r.close(id, models.StatusRestarted, at, 0); err != nil {
			return err
		}
		delete(r.open, e.Channel)
	}
	row := &models.IrrigationHistory{
		Channel:     e.Channel,
		TriggeredBy: string(e.Source),
		Slot:        slotOf(e),
		StartedAt:   &at,
		Status:      models.StatusStarted,
		Duration:    minutes(e.Planned),
	}
	if err := r.insert(row); err != nil {
		return err
	}
	r.open[e.Channel] = row.ID
	return nil
}

func (r *Recorder) stopped(e irrigation.Event, at time.Time) error {
	id, ok := r.open[e.Channel]
	if !ok {
		r.logger.Debug().Int("channel", e.Channel).Msg("stop without recorded start")
		return nil
	}
	delete(r.open, e.Channel)

	status := models.StatusStopped
	switch e.Reason {
	case irrigation.ReasonCompleted:
		status = models.StatusCompleted
	case irrigation.ReasonSafetyTimeout:
		status = models.StatusSafetyTimeout
	}
	return r.close(id, status, at, int(e.Elapsed/time.Second))
}

func (r *Recorder) close(id uint, status models.IrrigationStatus, at time.Time, ranSeconds int) error {
	res := r.db.Model(&models.IrrigationHistory{}).Where("id = ?", id).Updates(map[string]any{
		"ended_at":    at,
		"status":      status,
		"ran_seconds": ranSeconds,
	})
	if res.Error != nil {
		return fmt.Errorf("close history row %d: %w", id, res.Error)
	}
	return nil
}

func (r *Recorder) annotate(channel int, note string) error {
	id, ok := r.open[channel]
	if !ok {
		return nil
	}
	res := r.db.Model(&models.IrrigationHistory{}).Where("id = ?", id).Update("notes", note)
	if res.Error != nil {
		return fmt.Errorf("annotate history row %d: %w", id, res.Error)
	}
	return nil
}

func (r *Recorder) insert(row *models.IrrigationHistory) error {
	if err := r.db.Create(row).Error; err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first, optionally for one channel.
func (r *Recorder) Recent(ctx context.Context, channel, limit int) ([]models.IrrigationHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("id desc").Limit(limit)
	if channel > 0 {
		q = q.Where("channel = ?", channel)
	}
	var rows []models.IrrigationHistory
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return rows, nil
}

func slotOf(e irrigation.Event) *int {
	if e.Slot < 0 {
		return nil
	}
	slot := e.Slot
	return &slot
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
