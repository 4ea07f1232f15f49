package htmlconv

import (
	"testing"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain text",
			input:    "  just words ",
			expected: "just words",
		},
		{
			name:     "single paragraph",
			input:    "<p>Hello world</p>",
			expected: "Hello world",
		},
		{
			name:     "paragraphs and breaks",
			input:    "<p>first line<br>second line</p><p>next paragraph</p>",
			expected: "first line\nsecond line\n\nnext paragraph",
		},
		{
			name:     "entities",
			input:    "<p>Tom &amp; Jerry &lt;3 &quot;cheese&quot; it&#39;s&nbsp;fine</p>",
			expected: `Tom & Jerry <3 "cheese" it's fine`,
		},
		{
			name:     "mention and hashtag links",
			input:    `<p><span class="h-card"><a href="https://x.social/@bob" class="u-url mention">@<span>bob</span></a></span> see <a href="https://x.social/tags/go" class="mention hashtag">#<span>go</span></a></p>`,
			expected: "@bob see #go",
		},
		{
			name:     "shortened link",
			input:    `<p><a href="https://example.com/a/very/long/path"><span class="invisible">https://</span><span class="ellipsis">example.com/a/very</span><span class="invisible">/long/path</span></a></p>`,
			expected: "example.com/a/very…",
		},
		{
			name:     "script dropped",
			input:    "<p>safe</p><script>alert(1)</script>",
			expected: "safe",
		},
		{
			name:     "top-level style and invisible span dropped",
			input:    `<style>p{color:red}</style><span class="invisible">https://</span>example.com<!-- note -->`,
			expected: "example.com",
		},
		{
			name:     "list items",
			input:    "<ul><li>one</li><li>two</li></ul>",
			expected: "- one\n- two",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.input); got != tt.expected {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
