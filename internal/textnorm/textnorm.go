// Package textnorm turns raw chat messages into text suitable for speech.
package textnorm

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Defaults match the synthesis backend's text limit and the words read out
// for links and attachments.
const (
	DefaultMaxLength      = 100
	DefaultURLWord        = "URL"
	DefaultAttachmentWord = "ファイル"
)

var (
	// urlPattern matches http(s)/ftp links, including Discord's
	// embed-suppressing <...> form.
	urlPattern = regexp.MustCompile(`(?i)<?\b(?:https?|ftp)://[^\s>]+>?`)

	// customEmoji matches <:name:id> and <a:name:id>.
	customEmoji = regexp.MustCompile(`<a?:(\w+):\d+>`)
)

// Options configures a Normalizer. Zero fields take the defaults.
type Options struct {
	MaxLength      int
	URLWord        string
	AttachmentWord string
}

// Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer with defaults applied to zero fields.
func New(opts Options) *Normalizer {
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.URLWord == "" {
		opts.URLWord = DefaultURLWord
	}
	if opts.AttachmentWord == "" {
		opts.AttachmentWord = DefaultAttachmentWord
	}
	return &Normalizer{opts: opts}
}

// Normalize prepares a chat message for reading. It applies NFKC, replaces
// links with the URL word, reduces custom emoji to their names, collapses
// whitespace, appends the attachment word when attachments > 0, and clamps
// the result to MaxLength runes. An empty result means there is nothing to
// read.
func (n *Normalizer) Normalize(text string, attachments int) string {
	s := norm.NFKC.String(text)
	s = urlPattern.ReplaceAllLiteralString(s, n.opts.URLWord)
	s = customEmoji.ReplaceAllString(s, "$1")
	s = collapse(s)

	if attachments > 0 {
		if s == "" {
			s = n.opts.AttachmentWord
		} else {
			s += " " + n.opts.AttachmentWord
		}
	}
	return Clamp(s, n.opts.MaxLength)
}

// Greeting renders template with every "{name}" replaced by name and clamps
// the result. The name is normalized the same way as chat text.
func (n *Normalizer) Greeting(template, name string) string {
	name = collapse(norm.NFKC.String(name))
	return Clamp(strings.ReplaceAll(template, "{name}", name), n.opts.MaxLength)
}

// MaxLength returns the configured rune limit.
func (n *Normalizer) MaxLength() int { return n.opts.MaxLength }

// Clamp truncates s to at most limit runes and trims trailing space.
func Clamp(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return strings.TrimSpace(s)
	}
	i := 0
	for pos := range s {
		if i == limit {
			return strings.TrimSpace(s[:pos])
		}
		i++
	}
	return strings.TrimSpace(s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
