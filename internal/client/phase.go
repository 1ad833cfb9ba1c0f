package client

import "github.com/Tejaswa-Shrivastava/storylens/internal/models"

// Phase is the user-facing progress step of a story.
type Phase int

const (
	PhaseWriting Phase = iota + 1
	PhaseNarrating
	PhaseDone
	PhaseFailed
)

// PhaseFor maps a record status to the phase shown to the user. Unknown
// statuses are treated as still writing.
func PhaseFor(status models.Status) Phase {
	switch status {
	case models.StatusGeneratingAudio:
		return PhaseNarrating
	case models.StatusCompleted:
		return PhaseDone
	case models.StatusError:
		return PhaseFailed
	default:
		return PhaseWriting
	}
}

// ShouldPoll reports whether a story in status may still change.
func ShouldPoll(status models.Status) bool {
	switch status {
	case models.StatusPending, models.StatusProcessing, models.StatusGeneratingAudio:
		return true
	}
	return false
}

func (p Phase) String() string {
	switch p {
	case PhaseWriting:
		return "Generating creative story"
	case PhaseNarrating:
		return "Creating audio narration"
	case PhaseDone:
		return "Story ready"
	case PhaseFailed:
		return "Generation failed"
	}
	return "Unknown"
}
