package streams

import "time"

// StreamStoryStatus receives one entry per story status change.
const StreamStoryStatus = "story:status"

// SchemaVersionV1 tags entries written by this package.
const SchemaVersionV1 = "v1"

// StatusEvent is the JSON payload of a story:status entry.
type StatusEvent struct {
	StoryID    int64     `json:"story_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
