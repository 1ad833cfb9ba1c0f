package models

import (
	"time"
)

// Status is the processing status of a story record.
type Status string

// Story status constants
const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusGeneratingAudio Status = "generating_audio"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
)

// Placeholder text shown while a story is being written and after a failure.
const (
	PlaceholderTitle   = "Generating..."
	PlaceholderContent = "AI is crafting your story..."

	ErrorTitle   = "Generation Error"
	ErrorContent = "Sorry, we encountered an error while generating your story. Please try again."
)

// Story represents one upload-to-story workflow and its generation status
type Story struct {
	ID               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ImageURL         string    `json:"imageUrl" gorm:"column:image_url;type:text;not null"`
	Title            string    `json:"title" gorm:"type:text;not null"`
	Content          string    `json:"content" gorm:"type:text;not null"`
	AudioURL         *string   `json:"audioUrl,omitempty" gorm:"column:audio_url;type:text"`
	ProcessingStatus Status    `json:"processingStatus" gorm:"column:processing_status;not null;default:'pending';index"`
	CreatedAt        time.Time `json:"createdAt" gorm:"column:created_at;not null;index"`
}

// TableName pins the table created by the stories migration.
func (Story) TableName() string {
	return "stories"
}

// NewStory holds the caller-supplied fields of a record about to be created.
type NewStory struct {
	ImageURL         string
	Title            string
	Content          string
	ProcessingStatus Status
}

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusGeneratingAudio, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Rank orders statuses along the generation path. pending and processing
// share the first rank; error ranks above everything so it is never left.
func (s Status) Rank() int {
	switch s {
	case StatusPending, StatusProcessing:
		return 0
	case StatusGeneratingAudio:
		return 1
	case StatusCompleted:
		return 2
	case StatusError:
		return 3
	}
	return -1
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusGeneratingAudio:
		return from == StatusPending || from == StatusProcessing
	case StatusCompleted:
		return from == StatusGeneratingAudio
	case StatusError:
		return true
	}
	return false
}

// SourcesFor lists the statuses a record may be in to move to target.
func SourcesFor(target Status) []Status {
	var sources []Status
	for _, from := range []Status{StatusPending, StatusProcessing, StatusGeneratingAudio} {
		if CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}
