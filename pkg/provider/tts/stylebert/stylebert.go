// Package stylebert provides a tts.Provider backed by a Style-Bert-VITS2 API
// server.
//
// Synthesis is a single POST /voice request whose parameters travel in the
// query string; the response body is a complete WAV clip. Model discovery uses
// GET /models/info, which doubles as a connectivity probe.
//
// Typical usage:
//
//	p, err := stylebert.New("http://192.168.0.99:5000",
//	    stylebert.WithTimeout(15*time.Second),
//	)
//	wav, err := p.Synthesize(ctx, "こんにちは", tts.DefaultVoice())
package stylebert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Checker  = (*Provider)(nil)
)

const (
	providerName   = "style-bert-vits2"
	defaultTimeout = 10 * time.Second
	voiceEndpoint  = "/voice"
	modelsEndpoint = "/models/info"

	// MaxTextRunes is the longest text the server accepts in one request.
	MaxTextRunes = 100

	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 512
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely. Useful for tests and for
// sharing a transport.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// Provider implements tts.Provider against a Style-Bert-VITS2 server.
// It is safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider targeting the server at baseURL
// (e.g. "http://localhost:5000"). baseURL must be an absolute http(s) URL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("stylebert: baseURL must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("stylebert: parse baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("stylebert: baseURL %q must use http or https", baseURL)
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// Synthesize implements tts.Provider. The returned bytes are a WAV clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceParams) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("stylebert: empty text: %w", tts.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(text); n > MaxTextRunes {
		return nil, fmt.Errorf("stylebert: text has %d characters, limit is %d: %w", n, MaxTextRunes, tts.ErrInvalidInput)
	}
	if !voice.Language.IsValid() {
		return nil, fmt.Errorf("stylebert: language %q: %w", voice.Language, tts.ErrInvalidInput)
	}

	reqURL := p.baseURL + voiceEndpoint + "?" + voiceQuery(text, voice).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("stylebert: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stylebert: POST %s: %w: %w", voiceEndpoint, tts.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(voiceEndpoint, resp)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "audio/") {
		slog.Warn("stylebert: unexpected content type", "content_type", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stylebert: read response: %w: %w", tts.ErrUnavailable, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("stylebert: empty audio response: %w", tts.ErrUnavailable)
	}
	if len(body) < 12 || !bytes.Equal(body[0:4], []byte("RIFF")) || !bytes.Equal(body[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("stylebert: response is not a WAV clip (%d bytes)", len(body))
	}
	return body, nil
}

// voiceQuery renders the query string understood by POST /voice.
func voiceQuery(text string, v tts.VoiceParams) url.Values {
	q := url.Values{}
	q.Set("text", text)
	q.Set("model_id", strconv.Itoa(v.ModelID))
	q.Set("speaker_id", strconv.Itoa(v.SpeakerID))
	q.Set("style", v.Style)
	q.Set("sdp_ratio", formatFloat(v.SDPRatio))
	q.Set("noise", formatFloat(v.Noise))
	q.Set("noisew", formatFloat(v.NoiseW))
	q.Set("length", formatFloat(v.Length))
	q.Set("language", string(v.Language))
	q.Set("auto_split", strconv.FormatBool(v.AutoSplit))
	q.Set("split_interval", formatFloat(v.SplitInterval))
	return q
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// modelInfo is one entry of the GET /models/info response, keyed by model id.
type modelInfo struct {
	ConfigPath string            `json:"config_path"`
	ModelPath  string            `json:"model_path"`
	Device     string            `json:"device"`
	Spk2ID     map[string]int    `json:"spk2id"`
	ID2Spk     map[string]string `json:"id2spk"`
	Style2ID   map[string]int    `json:"style2id"`
}

// Check implements tts.Checker by listing the models hosted by the server.
func (p *Provider) Check(ctx context.Context) ([]tts.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+modelsEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stylebert: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stylebert: GET %s: %w: %w", modelsEndpoint, tts.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(modelsEndpoint, resp)
	}

	var raw map[string]modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("stylebert: decode %s: %w", modelsEndpoint, err)
	}

	models := make([]tts.ModelInfo, 0, len(raw))
	for key, info := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			slog.Debug("stylebert: skipping model with non-numeric id", "id", key)
			continue
		}
		m := tts.ModelInfo{
			ID:       id,
			Name:     modelName(info),
			Speakers: make(map[int]string, len(info.ID2Spk)),
		}
		for sid, name := range info.ID2Spk {
			if n, err := strconv.Atoi(sid); err == nil {
				m.Speakers[n] = name
			}
		}
		for style := range info.Style2ID {
			m.Styles = append(m.Styles, style)
		}
		sort.Strings(m.Styles)
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// modelName derives a display name from the model path
// ("model_assets/jvnv-F1/jvnv-F1.safetensors" → "jvnv-F1").
func modelName(info modelInfo) string {
	path := info.ModelPath
	if path == "" {
		path = info.ConfigPath
	}
	path = strings.ReplaceAll(path, "\\", "/")
	parts := strings.Split(path, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return strings.TrimSuffix(parts[len(parts)-1], ".safetensors")
}

// statusError reads a bounded slice of the error body into a *tts.StatusError.
func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &tts.StatusError{
		Provider:   "stylebert",
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
