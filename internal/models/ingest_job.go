package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusAbandoned = "abandoned"
)

// IngestJobTerminal reports whether a job will no longer change.
func IngestJobTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusAbandoned:
		return true
	}
	return false
}

// IngestJob tracks one background ingestion of a batch of files into a collection.
type IngestJob struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Collection string         `gorm:"type:varchar(200);not null" json:"collection"`
	Table      string         `gorm:"column:table_name;type:varchar(200);not null;index" json:"table"`
	Files      datatypes.JSON `gorm:"type:jsonb;not null" json:"files"`
	Status     string         `gorm:"type:varchar(20);not null;index" json:"status"`

	FilesTotal     int   `gorm:"not null;default:0" json:"files_total"`
	FilesSucceeded int   `gorm:"not null;default:0" json:"files_succeeded"`
	FilesFailed    int   `gorm:"not null;default:0" json:"files_failed"`
	PointsExpected int64 `gorm:"not null;default:0" json:"points_expected"`
	PointsWritten  int64 `gorm:"not null;default:0" json:"points_written"`
	Mismatch       bool  `gorm:"not null;default:false" json:"mismatch"`

	// Report holds the per-file breakdown once the job finishes.
	Report datatypes.JSON `gorm:"type:jsonb" json:"report,omitempty"`
	Error  *string        `gorm:"type:text" json:"error,omitempty"`

	StartedAt  *time.Time `gorm:"type:timestamptz" json:"started_at,omitempty"`
	FinishedAt *time.Time `gorm:"type:timestamptz" json:"finished_at,omitempty"`
	CreatedAt  time.Time  `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (IngestJob) TableName() string {
	return "ingest_jobs"
}
