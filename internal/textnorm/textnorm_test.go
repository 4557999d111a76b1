package textnorm

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	tests := []struct {
		name        string
		in          string
		attachments int
		want        string
	}{
		{name: "plain", in: "こんにちは", want: "こんにちは"},
		{name: "trim and collapse", in: "  おはよう \n\n ございます\t ", want: "おはよう ございます"},
		{name: "url", in: "見て https://example.com/a?b=c#d これ", want: "見て URL これ"},
		{name: "suppressed embed url", in: "<https://example.com/x>", want: "URL"},
		{name: "ftp url", in: "ftp://files.example.com/a.zip", want: "URL"},
		{name: "upper-case scheme", in: "HTTP://EXAMPLE.COM", want: "URL"},
		{name: "two urls", in: "http://a.jp http://b.jp", want: "URL URL"},
		{name: "custom emoji", in: "やった<:party:123456789>", want: "やったparty"},
		{name: "animated emoji", in: "<a:wave:42>", want: "wave"},
		{name: "nfkc width", in: "ＡＢＣ１２３ ｶﾀｶﾅ", want: "ABC123 カタカナ"},
		{name: "attachment only", in: "", attachments: 2, want: "ファイル"},
		{name: "text with attachment", in: "これ", attachments: 1, want: "これ ファイル"},
		{name: "whitespace only", in: "   \n", want: ""},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Normalize(tt.in, tt.attachments); got != tt.want {
				t.Errorf("Normalize(%q, %d) = %q, want %q", tt.in, tt.attachments, got, tt.want)
			}
		})
	}
}

func TestNormalize_Clamps(t *testing.T) {
	t.Parallel()

	n := New(Options{MaxLength: 10})
	got := n.Normalize(strings.Repeat("あ", 25), 0)
	if utf8.RuneCountInString(got) != 10 {
		t.Errorf("got %d runes, want 10", utf8.RuneCountInString(got))
	}
	if got := n.Normalize("123456789 abc", 0); got != "123456789" {
		t.Errorf("trailing space not trimmed after clamp: %q", got)
	}
}

func TestNormalize_CustomWords(t *testing.T) {
	t.Parallel()

	n := New(Options{URLWord: "リンク", AttachmentWord: "添付"})
	if got := n.Normalize("see https://x.y", 1); got != "see リンク 添付" {
		t.Errorf("got %q", got)
	}
}

func TestGreeting(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	tests := []struct {
		tmpl, name, want string
	}{
		{"{name}さん、こんちゃ！", "Alice", "Aliceさん、こんちゃ！"},
		{"{name}さん、またね！", "  Ｂｏｂ  ", "Bobさん、またね！"},
		{"ようこそ", "Carol", "ようこそ"},
		{"{name}と{name}", "D", "DとD"},
	}
	for _, tt := range tests {
		if got := n.Greeting(tt.tmpl, tt.name); got != tt.want {
			t.Errorf("Greeting(%q, %q) = %q, want %q", tt.tmpl, tt.name, got, tt.want)
		}
	}

	long := n.Greeting("{name}さん、こんちゃ！", strings.Repeat("長", 200))
	if utf8.RuneCountInString(long) != DefaultMaxLength {
		t.Errorf("greeting not clamped: %d runes", utf8.RuneCountInString(long))
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()

	if got := Clamp("abc", 0); got != "abc" {
		t.Errorf("Clamp with no limit = %q", got)
	}
	if got := Clamp("日本語テキスト", 3); got != "日本語" {
		t.Errorf("Clamp = %q", got)
	}
	if got := Clamp("ab", 2); got != "ab" {
		t.Errorf("Clamp exact = %q", got)
	}
}
