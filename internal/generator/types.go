// Package generator produces story text and narration audio for uploaded
// images, either from a local template catalogue or a remote model service.
package generator

// StoryContent is the generated title and body of a story
type StoryContent struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// audioRequest is the body posted to the narration endpoint
type audioRequest struct {
	StoryID int64  `json:"story_id"`
	Text    string `json:"text"`
}
