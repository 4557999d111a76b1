package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// keyMaterial is the canonical form hashed into a cache key. Field order is
// fixed by the struct definitions, so the encoding is stable across restarts.
type keyMaterial struct {
	Text  string          `json:"text"`
	Voice tts.VoiceParams `json:"voice"`
}

// CacheKey returns the hex SHA-256 of the JSON encoding of {text, voice}.
// Two requests share a key exactly when their text and every voice parameter
// are equal. It fails only for values JSON cannot encode (NaN, ±Inf).
func CacheKey(text string, voice tts.VoiceParams) (string, error) {
	b, err := json.Marshal(keyMaterial{Text: text, Voice: voice})
	if err != nil {
		return "", fmt.Errorf("synth: encode cache key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
