package models

import (
	"time"

	"gorm.io/gorm"
)

type IrrigationStatus string

const (
	StatusStarted       IrrigationStatus = "started"
	StatusCompleted     IrrigationStatus = "completed"
	StatusStopped       IrrigationStatus = "stopped"
	StatusRestarted     IrrigationStatus = "restarted"
	StatusSafetyTimeout IrrigationStatus = "safety_timeout"
	StatusSkipped       IrrigationStatus = "skipped"
	StatusFailed        IrrigationStatus = "failed"
)

// IrrigationHistory is one run of one channel, or a scheduled run that was
// skipped because the channel was busy.
type IrrigationHistory struct {
	gorm.Model
	Channel     int              `gorm:"not null;index"`
	TriggeredBy string           `gorm:"type:varchar(20);not null"` // manual, schedule or remote
	Slot        *int             // schedule slot for scheduled runs
	StartedAt   *time.Time
	EndedAt     *time.Time
	Status      IrrigationStatus `gorm:"type:varchar(20);not null"`
	Duration    int              `gorm:"not null"` // planned, in minutes
	RanSeconds  int
	Notes       string
}

func (IrrigationHistory) TableName() string {
	return "irrigation_history"
}
