package generator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// storyResponseSchema is the contract for the model service's /story reply.
const storyResponseSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "content"],
  "properties": {
    "title":   {"type": "string", "minLength": 1, "maxLength": 200},
    "content": {"type": "string", "minLength": 1}
  }
}`

var storySchema = func() *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(storyResponseSchema))
	if err != nil {
		panic(fmt.Sprintf("compile story response schema: %v", err))
	}
	return schema
}()

// decodeStory validates a raw /story response body and decodes it.
func decodeStory(body []byte) (*StoryContent, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	result := storySchema.Validate(doc)
	if !result.IsValid() {
		var messages []string
		for field, evalErr := range result.Errors {
			messages = append(messages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		sort.Strings(messages)
		return nil, fmt.Errorf("story response validation failed: %s", strings.Join(messages, "; "))
	}

	var content StoryContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &content, nil
}
