package stylebert

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/pkg/audio/audiotest"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New(srv.URL, WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RejectsBadURL(t *testing.T) {
	t.Parallel()

	for _, u := range []string{"", "ftp://host", "://nope"} {
		if _, err := New(u); err == nil {
			t.Errorf("New(%q): expected error", u)
		}
	}
}

func TestSynthesize_SendsQuery(t *testing.T) {
	t.Parallel()

	wav := audiotest.WAV(44100, 1, 50*time.Millisecond)
	var gotMethod, gotPath string
	var gotQuery map[string]string

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = map[string]string{}
		for k, v := range r.URL.Query() {
			gotQuery[k] = v[0]
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	})

	voice := tts.DefaultVoice()
	voice.SpeakerID = 3
	got, err := p.Synthesize(context.Background(), "こんにちは", voice)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(got, wav) {
		t.Errorf("audio mismatch: got %d bytes, want %d", len(got), len(wav))
	}
	if gotMethod != http.MethodPost || gotPath != "/voice" {
		t.Errorf("request = %s %s, want POST /voice", gotMethod, gotPath)
	}

	want := map[string]string{
		"text":           "こんにちは",
		"model_id":       "7",
		"speaker_id":     "3",
		"style":          "Neutral",
		"sdp_ratio":      "0.2",
		"noise":          "0.6",
		"noisew":         "0.8",
		"length":         "1",
		"language":       "JP",
		"auto_split":     "true",
		"split_interval": "0.5",
	}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}
}

func TestSynthesize_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		wantInvalid bool
		wantRetry   bool
	}{
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantInvalid: true},
		{name: "bad request", status: http.StatusBadRequest, wantInvalid: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantRetry: true},
		{name: "server error", status: http.StatusInternalServerError, wantRetry: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantRetry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := p.Synthesize(context.Background(), "テスト", tts.DefaultVoice())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, tts.ErrInvalidInput); got != tt.wantInvalid {
				t.Errorf("errors.Is(ErrInvalidInput) = %v, want %v (err=%v)", got, tt.wantInvalid, err)
			}
			if got := errors.Is(err, tts.ErrUnavailable); got != tt.wantRetry {
				t.Errorf("errors.Is(ErrUnavailable) = %v, want %v (err=%v)", got, tt.wantRetry, err)
			}
			var se *tts.StatusError
			if !errors.As(err, &se) || se.StatusCode != tt.status {
				t.Errorf("expected *tts.StatusError with status %d, got %v", tt.status, err)
			}
		})
	}
}

func TestSynthesize_RejectsBeforeCalling(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	})

	bad := tts.DefaultVoice()
	bad.Language = "FR"
	cases := []struct {
		text  string
		voice tts.VoiceParams
	}{
		{text: "   ", voice: tts.DefaultVoice()},
		{text: strings.Repeat("あ", MaxTextRunes+1), voice: tts.DefaultVoice()},
		{text: "hello", voice: bad},
	}
	for _, c := range cases {
		_, err := p.Synthesize(context.Background(), c.text, c.voice)
		if !errors.Is(err, tts.ErrInvalidInput) {
			t.Errorf("Synthesize(%.10q): err = %v, want ErrInvalidInput", c.text, err)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}
}

func TestSynthesize_NonWAVBody(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detail":"oops"}`))
	})
	_, err := p.Synthesize(context.Background(), "テスト", tts.DefaultVoice())
	if err == nil {
		t.Fatal("expected error for non-WAV body")
	}
	if errors.Is(err, tts.ErrUnavailable) || errors.Is(err, tts.ErrInvalidInput) {
		t.Errorf("non-WAV body should be unclassified, got %v", err)
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Synthesize(ctx, "テスト", tts.DefaultVoice())
	if !errors.Is(err, tts.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded in chain", err)
	}
}

func TestCheck_ParsesModels(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/info" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
			"7": {"model_path": "model_assets/amitaro/amitaro.safetensors",
			      "id2spk": {"0": "amitaro"}, "style2id": {"Neutral": 0, "Happy": 1}},
			"0": {"config_path": "model_assets/jvnv-F1/config.json",
			      "id2spk": {"0": "jvnv-F1-jp"}, "style2id": {"Neutral": 0}}
		}`))
	})

	models, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if models[0].ID != 0 || models[1].ID != 7 {
		t.Errorf("models not sorted by id: %+v", models)
	}
	if models[1].Name != "amitaro" {
		t.Errorf("name = %q, want amitaro", models[1].Name)
	}
	if got := models[1].Styles; len(got) != 2 || got[0] != "Happy" || got[1] != "Neutral" {
		t.Errorf("styles = %v", got)
	}
	if models[0].Speakers[0] != "jvnv-F1-jp" {
		t.Errorf("speakers = %v", models[0].Speakers)
	}
}

func TestCheck_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(url, WithTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Check(context.Background()); !errors.Is(err, tts.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}
