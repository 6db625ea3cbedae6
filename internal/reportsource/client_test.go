package reportsource

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payloadJSON = `{
	"range": {"start": "2025-03-01", "end": "2025-03-31"},
	"top5": [{"email": "dana@uni.example.edu", "count": 12}, {"email": "kim@uni.example.edu", "name": "Kim", "count": 7}],
	"inactiveUsers": [{"email": "lee@uni.example.edu", "count": 2}],
	"frequentQuestions": [{"question": "What is TCP?", "count": 3}, {"question": "What is TCP handshake?"}],
	"topTopicsPerCourse": {"Networking": [["TCP", 9], ["DNS", 4]], "C#": [["LINQ", 6]]},
	"recommendations": "Revisit the transport layer."
}`

func TestDecodePayload_Plain(t *testing.T) {
	p, err := DecodePayload([]byte(payloadJSON))
	require.NoError(t, err)

	assert.Equal(t, Range{Start: "2025-03-01", End: "2025-03-31"}, p.Range)
	require.Len(t, p.Top5, 2)
	assert.Equal(t, "Kim", p.Top5[1].Name)
	assert.Equal(t, 12, p.Top5[0].Count)
	require.Len(t, p.FrequentQuestions, 2)
	assert.Equal(t, 1, p.FrequentQuestions[1].Weight())
	assert.Equal(t, []TopicCount{{"TCP", 9}, {"DNS", 4}}, p.TopTopicsPerCourse["Networking"])
	assert.Equal(t, "Revisit the transport layer.", p.Recommendations)
}

func TestDecodePayload_Envelope(t *testing.T) {
	body, err := json.Marshal(payloadJSON)
	require.NoError(t, err)
	wrapped := `{"statusCode": 200, "headers": {"Access-Control-Allow-Origin": "*"}, "body": ` + string(body) + `}`

	p, err := DecodePayload([]byte(wrapped))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", p.Range.Start)
	assert.Len(t, p.InactiveUsers, 1)
}

func TestDecodePayload_ObjectBody(t *testing.T) {
	p, err := DecodePayload([]byte(`{"statusCode": 200, "body": {"range": {"start": "a", "end": "b"}}}`))
	require.NoError(t, err)
	assert.Equal(t, Range{Start: "a", End: "b"}, p.Range)
}

func TestDecodePayload_EnvelopeError(t *testing.T) {
	_, err := DecodePayload([]byte(`{"statusCode": 400, "body": "{\"error\": \"Missing startDate or endDate\"}"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.StatusCode)
	assert.Equal(t, "Missing startDate or endDate", se.Message)
}

func TestDecodePayload_Invalid(t *testing.T) {
	_, err := DecodePayload([]byte(`not json`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstream)
}

func TestTopicCount_JSON(t *testing.T) {
	var tc TopicCount
	require.NoError(t, json.Unmarshal([]byte(`["Sockets", 5]`), &tc))
	assert.Equal(t, TopicCount{Topic: "Sockets", Count: 5}, tc)

	require.NoError(t, json.Unmarshal([]byte(`{"topic": "LINQ", "count": 2}`), &tc))
	assert.Equal(t, TopicCount{Topic: "LINQ", Count: 2}, tc)

	assert.Error(t, json.Unmarshal([]byte(`["only-label"]`), &tc))
	assert.Error(t, json.Unmarshal([]byte(`[3, "swapped"]`), &tc))

	out, err := json.Marshal(TopicCount{Topic: "DNS", Count: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `["DNS", 4]`, string(out))
}

func TestClient_Fetch(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		inner, _ := json.Marshal(payloadJSON)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"statusCode": 200, "body": ` + string(inner) + `}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	p, err := c.Fetch(context.Background(), Request{
		StartDate:                 "2025-03-01",
		EndDate:                   "2025-03-31",
		IncludeTop5:               true,
		IncludeQuestionClustering: true,
		SimilarityThreshold:       0.7,
	})
	require.NoError(t, err)
	assert.Len(t, p.FrequentQuestions, 2)

	assert.Equal(t, "2025-03-01", got.StartDate)
	assert.True(t, got.IncludeTop5)
	assert.False(t, got.IncludeInactive)
	assert.Equal(t, 0.7, got.SimilarityThreshold)
}

func TestClient_FetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "plain error body",
			status:     http.StatusInternalServerError,
			body:       `{"error": "DynamoDB error: throttled"}`,
			wantStatus: 500,
			wantMsg:    "DynamoDB error: throttled",
		},
		{
			name:       "enveloped error body",
			status:     http.StatusBadRequest,
			body:       `{"statusCode": 400, "body": "{\"error\": \"Missing startDate or endDate\"}"}`,
			wantStatus: 400,
			wantMsg:    "Missing startDate or endDate",
		},
		{
			name:       "no body",
			status:     http.StatusBadGateway,
			wantStatus: 502,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).Fetch(context.Background(), Request{StartDate: "a", EndDate: "b"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpstream)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.wantStatus, se.StatusCode)
			assert.Equal(t, tt.wantMsg, se.Message)
		})
	}
}

func TestClient_NoEndpoint(t *testing.T) {
	_, err := NewClient("  ", time.Second).Fetch(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Fetch(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"range": {"start": "a", "end": "b"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second).WithRateLimit(1, 1)
	_, err := c.Fetch(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx, Request{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpstream)
}
