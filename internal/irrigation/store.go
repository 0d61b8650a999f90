package irrigation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultScheduleKey names the persisted schedule document.
const DefaultScheduleKey = "schedules.json"

const persistTimeout = 5 * time.Second

// ScheduleStore owns the fixed set of schedule slots. The in-memory slots are
// the source of truth; every mutation rewrites the whole persisted document.
type ScheduleStore struct {
	limits Limits
	slots  []Schedule
	docs   DocumentStore
	key    string
	logger zerolog.Logger
}

// NewScheduleStore creates a store with every slot disabled. docs may be nil,
// in which case nothing is persisted.
func NewScheduleStore(limits Limits, docs DocumentStore, key string, logger zerolog.Logger) *ScheduleStore {
	if key == "" {
		key = DefaultScheduleKey
	}
	s := &ScheduleStore{
		limits: limits,
		slots:  make([]Schedule, limits.MaxSchedules),
		docs:   docs,
		key:    key,
		logger: logger,
	}
	s.reset()
	return s
}

func (s *ScheduleStore) reset() {
	for i := range s.slots {
		s.slots[i] = s.limits.defaultSchedule()
	}
}

// Capacity is the fixed number of slots.
func (s *ScheduleStore) Capacity() int { return len(s.slots) }

// Add stores an enabled schedule in the first disabled slot and returns its
// index. A persistence error still returns the valid index.
func (s *ScheduleStore) Add(channel, hour, minute, durationMinutes int, weekdays WeekdayMask) (int, error) {
	if err := s.limits.validateSchedule(channel, hour, minute, durationMinutes); err != nil {
		return -1, err
	}
	index := s.freeSlot()
	if index < 0 {
		return -1, fmt.Errorf("%w: all %d slots in use", ErrStoreFull, len(s.slots))
	}
	s.slots[index] = Schedule{
		Enabled:         true,
		Channel:         channel,
		Hour:            hour,
		Minute:          minute,
		DurationMinutes: durationMinutes,
		Weekdays:        weekdays & EveryDay,
	}
	s.logger.Info().Int("slot", index).Str("schedule", s.slots[index].String()).Msg("schedule added")
	return index, s.persist()
}

// Update overwrites the timing of an existing slot in place. The enabled flag
// is left as it was.
func (s *ScheduleStore) Update(index, channel, hour, minute, durationMinutes int, weekdays WeekdayMask) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	if err := s.limits.validateSchedule(channel, hour, minute, durationMinutes); err != nil {
		return err
	}
	slot := &s.slots[index]
	slot.Channel = channel
	slot.Hour = hour
	slot.Minute = minute
	slot.DurationMinutes = durationMinutes
	slot.Weekdays = weekdays & EveryDay
	s.logger.Info().Int("slot", index).Str("schedule", slot.String()).Msg("schedule updated")
	return s.persist()
}

// Remove disables a slot. Removing a disabled slot is not an error.
func (s *ScheduleStore) Remove(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.slots[index].Enabled = false
	s.logger.Info().Int("slot", index).Msg("schedule removed")
	return s.persist()
}

// SetEnabled toggles a slot without touching its timing.
func (s *ScheduleStore) SetEnabled(index int, enabled bool) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	slot := &s.slots[index]
	if enabled {
		if err := s.limits.validateSchedule(slot.Channel, slot.Hour, slot.Minute, slot.DurationMinutes); err != nil {
			return err
		}
	}
	slot.Enabled = enabled
	s.logger.Info().Int("slot", index).Bool("enabled", enabled).Msg("schedule toggled")
	return s.persist()
}

// Get returns the schedule in a slot.
func (s *ScheduleStore) Get(index int) (Schedule, error) {
	if err := s.checkIndex(index); err != nil {
		return Schedule{}, err
	}
	return s.slots[index], nil
}

// List returns a copy of every slot, disabled ones included, ordered by index.
func (s *ScheduleStore) List() []Schedule {
	out := make([]Schedule, len(s.slots))
	copy(out, s.slots)
	return out
}

// EnabledCount counts the slots in use.
func (s *ScheduleStore) EnabledCount() int {
	n := 0
	for _, slot := range s.slots {
		if slot.Enabled {
			n++
		}
	}
	return n
}

func (s *ScheduleStore) freeSlot() int {
	for i, slot := range s.slots {
		if !slot.Enabled {
			return i
		}
	}
	return -1
}

func (s *ScheduleStore) checkIndex(index int) error {
	if index < 0 || index >= len(s.slots) {
		return fmt.Errorf("%w: %d not in 0..%d", ErrIndexOutOfRange, index, len(s.slots)-1)
	}
	return nil
}

func (s *ScheduleStore) persist() error {
	if err := s.Save(); err != nil {
		s.logger.Error().Err(err).Msg("schedule change kept in memory only")
		return err
	}
	return nil
}

// scheduleDocument is the persisted shape. Record fields are pointers so that
// fields missing from documents written by older firmware can be defaulted.
type scheduleDocument struct {
	Schedules []scheduleRecord `json:"schedules"`
}

type scheduleRecord struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Channel  *int  `json:"channel,omitempty"`
	Hour     *int  `json:"hour,omitempty"`
	Minute   *int  `json:"minute,omitempty"`
	Duration *int  `json:"duration,omitempty"`
	Weekdays *int  `json:"weekdays,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Save writes every slot as a single document.
func (s *ScheduleStore) Save() error {
	if s.docs == nil {
		return nil
	}
	doc := scheduleDocument{Schedules: make([]scheduleRecord, len(s.slots))}
	for i, slot := range s.slots {
		doc.Schedules[i] = scheduleRecord{
			Enabled:  ptr(slot.Enabled),
			Channel:  ptr(slot.Channel),
			Hour:     ptr(slot.Hour),
			Minute:   ptr(slot.Minute),
			Duration: ptr(slot.DurationMinutes),
			Weekdays: ptr(int(slot.Weekdays)),
		}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode schedules: %w", ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.docs.WriteDocument(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, s.key, err)
	}
	s.logger.Debug().Str("key", s.key).Int("slots", len(s.slots)).Msg("schedules saved")
	return nil
}

// Load replaces every slot from the persisted document. A missing or corrupt
// document leaves all slots disabled and returns an error wrapping
// ErrPersistence; the controller keeps working in manual-only mode.
func (s *ScheduleStore) Load() error {
	s.reset()
	if s.docs == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	data, err := s.docs.ReadDocument(ctx, s.key)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrPersistence, s.key, err)
	}

	var doc scheduleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrPersistence, s.key, err)
	}

	loaded := 0
	for i, rec := range doc.Schedules {
		if i >= len(s.slots) {
			s.logger.Warn().Int("records", len(doc.Schedules)).Int("capacity", len(s.slots)).Msg("ignoring schedules beyond capacity")
			break
		}
		slot := s.fromRecord(rec)
		if slot.Enabled {
			if err := s.limits.validateSchedule(slot.Channel, slot.Hour, slot.Minute, slot.DurationMinutes); err != nil {
				s.logger.Warn().Err(err).Int("slot", i).Msg("loaded schedule disabled")
				slot.Enabled = false
			}
		}
		s.slots[i] = slot
		loaded++
	}
	s.logger.Info().Int("slots", loaded).Int("enabled", s.EnabledCount()).Msg("schedules loaded")
	return nil
}

func (s *ScheduleStore) fromRecord(rec scheduleRecord) Schedule {
	slot := s.limits.defaultSchedule()
	if rec.Enabled != nil {
		slot.Enabled = *rec.Enabled
	}
	if rec.Channel != nil {
		slot.Channel = *rec.Channel
	}
	if rec.Hour != nil {
		slot.Hour = *rec.Hour
	}
	if rec.Minute != nil {
		slot.Minute = *rec.Minute
	}
	if rec.Duration != nil {
		slot.DurationMinutes = *rec.Duration
	}
	if rec.Weekdays != nil {
		slot.Weekdays = WeekdayMask(*rec.Weekdays) & EveryDay
	}
	return slot
}
