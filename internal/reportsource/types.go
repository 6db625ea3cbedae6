// Package reportsource fetches lecturer report payloads from the upstream reporting endpoint.
package reportsource

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/thebtf/lectern/pkg/models"
)

// Request is the body POSTed to the LecturerReport endpoint.
type Request struct {
	StartDate                 string  `json:"startDate"`
	EndDate                   string  `json:"endDate"`
	IncludeTop5               bool    `json:"includeTop5"`
	IncludeInactive           bool    `json:"includeInactive"`
	IncludeRecommendations    bool    `json:"includeRecommendations"`
	IncludeQuestionClustering bool    `json:"includeQuestionClustering"`
	SimilarityThreshold       float64 `json:"similarityThreshold"`
}

// Range is the reporting window echoed back by the endpoint.
type Range struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// StudentActivity is one student's question count in the window.
type StudentActivity struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Count int    `json:"count"`
}

// TopicCount is a topic and how often it came up. On the wire it is a
// two-element array: ["topic", count].
type TopicCount struct {
	Topic string
	Count int
}

// MarshalJSON encodes the pair form.
func (t TopicCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Topic, t.Count})
}

// UnmarshalJSON accepts ["topic", count] and, for hand-written fixtures,
// {"topic": "...", "count": N}.
func (t *TopicCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Topic string `json:"topic"`
			Count int    `json:"count"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		t.Topic, t.Count = obj.Topic, obj.Count
		return nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("topic count: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("topic count: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &t.Topic); err != nil {
		return fmt.Errorf("topic count label: %w", err)
	}
	var count float64
	if err := json.Unmarshal(pair[1], &count); err != nil {
		return fmt.Errorf("topic count value: %w", err)
	}
	t.Count = int(count)
	return nil
}

// Payload is the report data returned by the endpoint. Sections the request did
// not ask for are absent.
type Payload struct {
	Range              Range                   `json:"range"`
	Top5               []StudentActivity       `json:"top5,omitempty"`
	InactiveUsers      []StudentActivity       `json:"inactiveUsers,omitempty"`
	FrequentQuestions  []models.QuestionRecord `json:"frequentQuestions,omitempty"`
	TopTopicsPerCourse map[string][]TopicCount `json:"topTopicsPerCourse,omitempty"`
	Recommendations    string                  `json:"recommendations,omitempty"`
}

// envelope is the API-gateway proxy response shape. Body holds the payload as a
// JSON string.
type envelope struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// errorBody is what the endpoint sends alongside a failing status.
type errorBody struct {
	Error string `json:"error"`
}

// DecodePayload decodes a response body that is either the payload itself or a
// proxy envelope wrapping it. A failing statusCode inside the envelope is
// reported as ErrUpstream.
func DecodePayload(data []byte) (*Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode report response: %w", err)
	}

	body := bytes.TrimSpace(env.Body)
	if len(body) > 0 && body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, fmt.Errorf("decode report body: %w", err)
		}
		body = bytes.TrimSpace([]byte(inner))
	}
	if env.StatusCode >= 400 {
		return nil, upstreamError(env.StatusCode, body)
	}
	if len(body) > 0 && body[0] == '{' {
		data = body
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode report payload: %w", err)
	}
	return &p, nil
}

// ErrUpstream marks failures reported by the report endpoint itself.
var ErrUpstream = errors.New("report endpoint failed")

// StatusError carries the status code of a failed upstream call.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", ErrUpstream, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrUpstream, e.StatusCode, e.Message)
}

// Unwrap lets errors.Is match ErrUpstream.
func (e *StatusError) Unwrap() error {
	return ErrUpstream
}

func upstreamError(status int, body []byte) error {
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		return &StatusError{StatusCode: status, Message: eb.Error}
	}
	return &StatusError{StatusCode: status}
}
