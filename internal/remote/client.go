// Package remote implements the HTTP client for the external "derive
// memories" augmentation endpoint: a bounded-retry POST that distinguishes
// anonymous-quota exhaustion from ordinary failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memori-go/memori/internal/logging"
)

const (
	augmentationPath  = "/v1/sdk/augmentation"
	providerHeader    = "X-Memori-SDK"
	providerHeaderVal = "memori-go"
	maxAttempts       = 5
	totalTimeout      = 30 * time.Second
)

// NamedTyped mirrors storage.NamedTyped on the wire: a knowledge-graph
// subject or object, {name, type}.
type NamedTyped struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Triple is one derived (subject, predicate, object) tuple as returned by
// the augmentation service.
type Triple struct {
	Subject   NamedTyped `json:"subject"`
	Predicate string     `json:"predicate"`
	Object    NamedTyped `json:"object"`
}

// Request is the wire body POSTed to the augmentation endpoint.
type Request struct {
	Conversation RequestConversation `json:"conversation"`
	Meta         RequestMeta         `json:"meta"`
}

type RequestConversation struct {
	Messages []RequestMessage `json:"messages"`
	Summary  string           `json:"summary,omitempty"`
}

type RequestMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type RequestMeta struct {
	LLM     RequestLLM     `json:"llm"`
	SDK     RequestSDK     `json:"sdk"`
	Storage RequestStorage `json:"storage"`
}

type RequestLLM struct {
	Model RequestModel `json:"model"`
}

type RequestModel struct {
	Provider string `json:"provider"`
	Version  string `json:"version"`
}

type RequestSDK struct {
	Lang    string `json:"lang"`
	Version string `json:"version"`
}

type RequestStorage struct {
	Dialect string `json:"dialect"`
}

// Response is the wire body returned by the augmentation endpoint.
type Response struct {
	Entity       ResponseEntity       `json:"entity"`
	Process      ResponseProcess      `json:"process"`
	Conversation ResponseConversation `json:"conversation"`
}

type ResponseEntity struct {
	Facts   []string `json:"facts,omitempty"`
	Triples []Triple `json:"triples,omitempty"`
}

type ResponseProcess struct {
	Attributes []string `json:"attributes,omitempty"`
}

type ResponseConversation struct {
	Summary string `json:"summary,omitempty"`
}

// QuotaExceededError is returned when an anonymous caller exhausts the
// augmentation service's free quota (HTTP 429 with no API key set). The
// augmentation worker pool catches this to disable itself.
type QuotaExceededError struct {
	Message string
}

func (e *QuotaExceededError) Error() string {
	if e.Message == "" {
		return "memori: quota exceeded"
	}
	return fmt.Sprintf("memori: quota exceeded: %s", e.Message)
}

// Client POSTs to the external derive-memories endpoint with bounded
// retries, distinguishing 5xx/transport failures (retried) from 4xx
// (not retried) and anonymous-429 (raised as QuotaExceededError).
type Client struct {
	BaseURL    string
	APIKey     string
	TestMode   bool
	HTTPClient *http.Client
}

// NewClient builds a Client against baseURL, using apiKey as the bearer
// token ("anonymous" quota path applies when apiKey is empty).
func NewClient(baseURL, apiKey string, testMode bool) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		TestMode: testMode,
		HTTPClient: &http.Client{
			Timeout: totalTimeout,
		},
	}
}

// Augment calls the augmentation endpoint, retrying up to maxAttempts
// times with sleep = 2^attempt seconds on 5xx or transport errors. 4xx
// responses are not retried. On TestMode, the request is logged instead
// of sent and a zero Response is returned.
func (c *Client) Augment(ctx context.Context, req Request) (Response, error) {
	if c.TestMode {
		body, _ := json.MarshalIndent(req, "", "  ")
		logging.Info("remote", "TEST MODE: would POST %s%s:\n%s", c.BaseURL, augmentationPath, body)
		return Response{}, nil
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("remote: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if qerr, ok := err.(*QuotaExceededError); ok {
			return Response{}, qerr
		}
		if !retryable || attempt == maxAttempts-1 {
			return Response{}, lastErr
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
	return Response{}, lastErr
}

// attempt performs one HTTP round trip, classifying the outcome into a
// parsed Response, whether the failure is retryable, and the error (if
// any).
func (c *Client) attempt(ctx context.Context, body []byte) (Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+augmentationPath, bytes.NewReader(body))
	if err != nil {
		return Response{}, false, fmt.Errorf("remote: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(providerHeader, providerHeaderVal)
	httpReq.Header.Set("Authorization", "Bearer "+c.bearerToken())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, true, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		if c.APIKey == "" {
			var parsed struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(respBody, &parsed)
			return Response{}, false, &QuotaExceededError{Message: parsed.Message}
		}
		// Authenticated callers silently skip augmentation on quota limits.
		return Response{}, false, nil
	}

	if resp.StatusCode >= 500 {
		return Response{}, true, fmt.Errorf("remote: server error %d: %s", resp.StatusCode, respBody)
	}
	if resp.StatusCode >= 400 {
		return Response{}, false, fmt.Errorf("remote: client error %d: %s", resp.StatusCode, respBody)
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Response{}, false, fmt.Errorf("remote: decode response: %w", err)
	}
	return out, false, nil
}

func (c *Client) bearerToken() string {
	if c.APIKey == "" {
		return "anonymous"
	}
	return c.APIKey
}
