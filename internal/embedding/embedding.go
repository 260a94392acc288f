// Package embedding provides the encode(text) -> float32 vector surface
// and its binary packing, with a model-name-keyed model cache and a
// zero-vector fallback on failure.
package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"sync"

	"github.com/memori-go/memori/internal/logging"
)

const (
	// DefaultDimension is the vector width assumed whenever a model
	// cannot report its own dimension, and the width of the zero-vector
	// fallback.
	DefaultDimension = 768
	// DefaultModel names the default embedding model.
	DefaultModel = "all-mpnet-base-v2"
)

// Model encodes text into vectors. A real deployment backs this with a
// local or remote embedding model; tests and default construction use
// ZeroModel, which always returns the zero-vector fallback (the same
// behavior the Service falls back to itself on a real model's failure).
type Model interface {
	Name() string
	Dimension() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// Service is a model-name-keyed cache over Model instances. Each Service
// keeps its own cache; memori.Open builds one Service per Handle, so
// loaded models are not shared between handles. It implements the
// degrade-to-zero-vector contract: a model that fails to
// load, or fails mid-encode, never propagates an error to the caller — it
// yields an all-zero vector instead, which cosine similarity will score 0
// against everything.
type Service struct {
	mu      sync.Mutex
	loaders map[string]func() (Model, error)
	cache   map[string]Model
}

// NewService creates an embedding Service with no models registered yet.
func NewService() *Service {
	return &Service{
		loaders: make(map[string]func() (Model, error)),
		cache:   make(map[string]Model),
	}
}

// Register associates a model name with a loader, called at most once per
// Service per name.
func (s *Service) Register(name string, loader func() (Model, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaders[name] = loader
}

func (s *Service) model(name string) Model {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.cache[name]; ok {
		return m
	}
	loader, ok := s.loaders[name]
	if !ok {
		logging.Info("embedding", "no loader registered for model %q, using zero-vector fallback", name)
		m := ZeroModel{name: name, dim: DefaultDimension}
		s.cache[name] = m
		return m
	}
	m, err := loader()
	if err != nil {
		logging.Info("embedding", "model %q failed to load: %v — using zero-vector fallback", name, err)
		m = ZeroModel{name: name, dim: DefaultDimension}
	}
	s.cache[name] = m
	return m
}

// Encode encodes one or more texts with the named model (DefaultModel
// when name is empty), degrading to a zero vector per text on failure.
func (s *Service) Encode(ctx context.Context, name string, texts []string) [][]float32 {
	if name == "" {
		name = DefaultModel
	}
	m := s.model(name)

	vectors, err := m.Encode(ctx, texts)
	if err != nil {
		logging.Info("embedding", "encode with model %q failed: %v — using zero-vector fallback", name, err)
		dim := m.Dimension()
		if dim <= 0 {
			dim = DefaultDimension
		}
		vectors = make([][]float32, len(texts))
		for i := range vectors {
			vectors[i] = make([]float32, dim)
		}
	}
	return vectors
}

// EncodeOne is a convenience wrapper around Encode for a single string.
func (s *Service) EncodeOne(ctx context.Context, name, text string) []float32 {
	vs := s.Encode(ctx, name, []string{text})
	if len(vs) == 0 {
		return make([]float32, DefaultDimension)
	}
	return vs[0]
}

// ZeroModel is the fallback Model: it never fails and always returns
// all-zero vectors of its configured dimension.
type ZeroModel struct {
	name string
	dim  int
}

func (z ZeroModel) Name() string { return z.name }
func (z ZeroModel) Dimension() int {
	if z.dim <= 0 {
		return DefaultDimension
	}
	return z.dim
}
func (z ZeroModel) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, z.Dimension())
	}
	return out, nil
}

// Pack serializes a vector as little-endian float32 bytes:
// pack('<f', v[0]) || ... || pack('<f', v[D-1]).
func Pack(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Unpack parses little-endian float32 bytes back into a vector. Bytes
// whose length is not a multiple of 4 are truncated to the nearest whole
// component, matching a best-effort parse rather than a hard error —
// callers (similarity search) are expected to skip rows that don't parse
// cleanly rather than fail the whole query.
func Unpack(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
