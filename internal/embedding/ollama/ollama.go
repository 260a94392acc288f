// Package ollama is an optional embedding.Model backed by a local Ollama
// server's /api/embeddings endpoint — a real backend callers can Register
// with embedding.Service instead of relying on the zero-vector fallback.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/memori-go/memori/internal/embedding"
)

// Model calls one Ollama server's /api/embeddings endpoint, one text at a
// time (the endpoint has no batch form).
type Model struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// New builds a Model against baseURL (default "http://localhost:11434")
// using the named embedding model (default "nomic-embed-text", 768
// dims). dim is the vector width reported by Dimension when no call has
// completed yet.
func New(baseURL, model string, dim int) *Model {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dim <= 0 {
		dim = embedding.DefaultDimension
	}
	return &Model{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (m *Model) Name() string   { return m.model }
func (m *Model) Dimension() int { return m.dim }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Encode embeds each text in turn. A single failed request fails the
// whole call — embedding.Service is what degrades to zero vectors on
// error, not this Model.
func (m *Model) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("ollama: embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (m *Model) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: m.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	v := make([]float32, len(parsed.Embedding))
	for i, f := range parsed.Embedding {
		v[i] = float32(f)
	}
	m.dim = len(v)
	return v, nil
}
