package tts

import (
	"errors"
	"fmt"
	"strings"
)

// Language is the synthesis language understood by the backend.
type Language string

const (
	LanguageJP Language = "JP"
	LanguageEN Language = "EN"
	LanguageZH Language = "ZH"
)

// IsValid reports whether l is a supported language.
func (l Language) IsValid() bool {
	switch l {
	case LanguageJP, LanguageEN, LanguageZH:
		return true
	}
	return false
}

// ParseLanguage accepts a case-insensitive language code.
func ParseLanguage(s string) (Language, error) {
	l := Language(strings.ToUpper(strings.TrimSpace(s)))
	if !l.IsValid() {
		return "", fmt.Errorf("tts: unsupported language %q (want JP, EN or ZH)", s)
	}
	return l, nil
}

// VoiceParams is the complete parameter set that determines how a text is
// voiced. Two requests with equal text and equal VoiceParams produce the same
// audio, which is what makes synthesis results cacheable.
//
// The JSON field order is part of the cache key derivation; do not reorder.
type VoiceParams struct {
	ModelID       int      `json:"model_id"       yaml:"model_id"`
	SpeakerID     int      `json:"speaker_id"     yaml:"speaker_id"`
	Style         string   `json:"style"          yaml:"style"`
	Language      Language `json:"language"       yaml:"language"`
	SDPRatio      float64  `json:"sdp_ratio"      yaml:"sdp_ratio"`
	Noise         float64  `json:"noise"          yaml:"noise"`
	NoiseW        float64  `json:"noise_w"        yaml:"noise_w"`
	Length        float64  `json:"length"         yaml:"length"`
	AutoSplit     bool     `json:"auto_split"     yaml:"auto_split"`
	SplitInterval float64  `json:"split_interval" yaml:"split_interval"`
}

// DefaultVoice returns the voice used when nothing else is configured.
func DefaultVoice() VoiceParams {
	return VoiceParams{
		ModelID:       7,
		SpeakerID:     0,
		Style:         "Neutral",
		Language:      LanguageJP,
		SDPRatio:      0.2,
		Noise:         0.6,
		NoiseW:        0.8,
		Length:        1.0,
		AutoSplit:     true,
		SplitInterval: 0.5,
	}
}

// Validate checks the numeric ranges accepted by the backend.
func (v VoiceParams) Validate() error {
	var errs []error
	if v.ModelID < 0 {
		errs = append(errs, fmt.Errorf("model_id %d must not be negative", v.ModelID))
	}
	if v.SpeakerID < 0 {
		errs = append(errs, fmt.Errorf("speaker_id %d must not be negative", v.SpeakerID))
	}
	if v.Style == "" {
		errs = append(errs, errors.New("style is required"))
	}
	if !v.Language.IsValid() {
		errs = append(errs, fmt.Errorf("language %q is invalid; valid values: JP, EN, ZH", v.Language))
	}
	if v.SDPRatio < 0 || v.SDPRatio > 1 {
		errs = append(errs, fmt.Errorf("sdp_ratio %.2f is out of range [0, 1]", v.SDPRatio))
	}
	if v.Noise < 0 || v.Noise > 2 {
		errs = append(errs, fmt.Errorf("noise %.2f is out of range [0, 2]", v.Noise))
	}
	if v.NoiseW < 0 || v.NoiseW > 2 {
		errs = append(errs, fmt.Errorf("noise_w %.2f is out of range [0, 2]", v.NoiseW))
	}
	if v.Length < 0.1 || v.Length > 5 {
		errs = append(errs, fmt.Errorf("length %.2f is out of range [0.1, 5]", v.Length))
	}
	if v.SplitInterval < 0 {
		errs = append(errs, fmt.Errorf("split_interval %.2f must not be negative", v.SplitInterval))
	}
	return errors.Join(errs...)
}
