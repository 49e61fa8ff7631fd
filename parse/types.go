package parse

import (
	"encoding/json"
	"fmt"
)

// Section is one exam part ("PHẦN I", ...) with its questions. Documents
// without part headers get a single implicit section.
type Section struct {
	Name      string      `json:"name"`
	Questions []*Question `json:"questions"`
}

// Question is one parsed exam question. Picture is filled by the picture
// separation pass when the statement contained a figure.
type Question struct {
	ID       string        `json:"id"`
	Question string        `json:"question"`
	Answers  []*Answer     `json:"answers"`
	Correct  CorrectAnswer `json:"correct_answer"`
	Picture  string        `json:"picture,omitempty"`
}

// Answer is a single option of a question.
type Answer struct {
	Key     string `json:"key"`
	Content string `json:"content"`
	Picture string `json:"picture,omitempty"`
}

// CorrectAnswer serializes in two shapes: a bare key string for
// single-choice questions and a key -> bool map for true/false questions.
// Exactly one of Key and Truth is set; a question without recognized
// options carries an empty map.
type CorrectAnswer struct {
	Key   string
	Truth map[string]bool
}

// IsSingle reports whether this is the single-choice shape.
func (c CorrectAnswer) IsSingle() bool { return c.Key != "" }

func (c CorrectAnswer) MarshalJSON() ([]byte, error) {
	if c.Key != "" {
		return json.Marshal(c.Key)
	}
	if c.Truth == nil {
		return json.Marshal(map[string]bool{})
	}
	return json.Marshal(c.Truth)
}

func (c *CorrectAnswer) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		*c = CorrectAnswer{Key: key}
		return nil
	}
	var truth map[string]bool
	if err := json.Unmarshal(data, &truth); err == nil {
		*c = CorrectAnswer{Truth: truth}
		return nil
	}
	return fmt.Errorf("correct_answer is neither string nor map: %s", data)
}
