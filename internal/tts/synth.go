package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Clip is a playable handle to synthesized speech. Key is the cache key
// of the source text; URL points at the fetched audio, which may expire
// upstream and must be probed before reuse.
type Clip struct {
	Key      string
	URL      string
	Duration time.Duration
}

// Synthesizer turns paragraph text into a playable clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Clip, error)
}

// HTTPSynthesizer calls a speech-synthesis API over HTTP.
type HTTPSynthesizer struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewHTTPSynthesizer creates a client for the given API base URL.
func NewHTTPSynthesizer(baseURL string, log *zap.Logger) *HTTPSynthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPSynthesizer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthesizeResponse struct {
	URL        string `json:"url"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, voice string) (Clip, error) {
	body, err := json.Marshal(synthesizeRequest{Text: NormalizeText(text), Voice: voice})
	if err != nil {
		return Clip{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return Clip{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Clip{}, fmt.Errorf("synthesize request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Clip{}, fmt.Errorf("synthesize: unexpected status %d", resp.StatusCode)
	}

	var out synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Clip{}, fmt.Errorf("synthesize response: %w", err)
	}

	clip := Clip{
		Key:      HashText(text),
		URL:      out.URL,
		Duration: time.Duration(out.DurationMS) * time.Millisecond,
	}
	s.log.Debug("synthesized clip",
		zap.String("key", clip.Key), zap.Duration("duration", clip.Duration))
	return clip, nil
}
