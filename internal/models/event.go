package models

import (
	"time"
)

const (
	EventStatusManual   = "manual"
	EventStatusRefined  = "refined"
	EventStatusReviewed = "reviewed"
)

// ValidEventStatus reports whether s is one of the annotation review states.
func ValidEventStatus(s string) bool {
	switch s {
	case EventStatusManual, EventStatusRefined, EventStatusReviewed:
		return true
	}
	return false
}

// Event is an annotator-labelled vehicle pass over a time window.
type Event struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	StartTimestamp    time.Time `gorm:"type:timestamptz;not null;index" json:"start_timestamp"`
	EndTimestamp      time.Time `gorm:"type:timestamptz;not null" json:"end_timestamp"`
	VehicleType       string    `gorm:"type:varchar(100);not null" json:"vehicle_type"`
	VehicleIdentifier *string   `gorm:"type:varchar(200)" json:"vehicle_identifier"`
	Direction         *string   `gorm:"type:varchar(50)" json:"direction"`
	AnnotatorNotes    *string   `gorm:"type:text" json:"annotator_notes"`
	Status            string    `gorm:"type:varchar(20);not null;default:manual;index" json:"status"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Event) TableName() string {
	return "events"
}
