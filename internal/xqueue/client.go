// Package xqueue is the adapter to the external grading queue: synchronous
// submission of grader payloads plus parsing of the asynchronous callbacks.
package xqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Header identifies one submission to the queue. The grader echoes the
// queuekey back in its callback so the engine can match results to the
// pending slot.
type Header struct {
	LmsCallbackURL string `json:"lms_callback_url"`
	LmsKey         string `json:"lms_key"`
	QueueName      string `json:"queue_name"`
}

// Submission is the wire form the queue accepts.
type Submission struct {
	Header string `json:"xqueue_header"` // JSON-encoded Header
	Body   string `json:"xqueue_body"`
}

// Callback is what the grader posts back to the engine.
type Callback struct {
	Header struct {
		QueueKey string `json:"lms_key"`
	} `json:"xqueue_header"`
	Body string `json:"xqueue_body"`
}

// ParseCallback decodes a grader callback and returns the queuekey and raw
// grader body.
func ParseCallback(b []byte) (queueKey string, body []byte, err error) {
	var cb Callback
	if err := json.Unmarshal(b, &cb); err != nil {
		return "", nil, fmt.Errorf("xqueue: bad callback payload: %w", err)
	}
	if cb.Header.QueueKey == "" {
		return "", nil, fmt.Errorf("xqueue: callback missing queuekey")
	}
	return cb.Header.QueueKey, []byte(cb.Body), nil
}

// Client talks to the queue over HTTP.
type Client struct {
	baseURL  string
	waittime time.Duration
	http     *http.Client
}

// NewClient builds a queue client. waittime is the minimum spacing between
// successive submissions for the same input.
func NewClient(baseURL string, waittime time.Duration) *Client {
	return &Client{
		baseURL:  baseURL,
		waittime: waittime,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Waittime is the enforced spacing between queue submissions.
func (c *Client) Waittime() time.Duration { return c.waittime }

// Send submits a grader payload. code 0 means the queue accepted it;
// non-zero codes carry the queue's message.
func (c *Client) Send(ctx context.Context, header Header, body string) (code int, msg string, err error) {
	hj, err := json.Marshal(header)
	if err != nil {
		return 1, "", fmt.Errorf("xqueue: encode header: %w", err)
	}
	payload, err := json.Marshal(Submission{Header: string(hj), Body: body})
	if err != nil {
		return 1, "", fmt.Errorf("xqueue: encode submission: %w", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "xqueue", "submit")
	if err != nil {
		return 1, "", fmt.Errorf("xqueue: bad base url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 1, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 1, "", fmt.Errorf("xqueue: submit: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Return int    `json:"return_code"`
		Msg    string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 1, "", fmt.Errorf("xqueue: decode response: %w", err)
	}
	return out.Return, out.Msg, nil
}
