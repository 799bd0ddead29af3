package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTelegramHTML(t *testing.T) {
	tt := []struct {
		desc string
		in   string
		want string
	}{
		{desc: "empty", in: "  ", want: ""},
		{desc: "bold and italic", in: "**Amen** and *peace*", want: "<b>Amen</b> and <i>peace</i>"},
		{desc: "strips headings", in: "# Psalm 23", want: "Psalm 23"},
		{desc: "escapes markup in text", in: "1 < 2", want: "1 &lt; 2"},
		{desc: "list items", in: "- one\n- two", want: "• one\n• two"},
		{desc: "loose list", in: "- one\n\n- two\n\n- three", want: "• one\n• two\n• three"},
		{desc: "list after paragraph", in: "Needs:\n\n1. rain\n2. rest", want: "Needs:\n\n• rain\n• rest"},
	}

	for _, ts := range tt {
		t.Run(ts.desc, func(t *testing.T) {
			assert.Equal(t, ts.want, ToTelegramHTML(ts.in))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short text", Preview("  short\n\ttext ", 50))
	assert.Equal(t, "abcd…", Preview("abcdefghij", 5))
	assert.Equal(t, "héllo wör…", Preview("héllo wörld", 10))
	assert.Equal(t, "unbounded", Preview("unbounded", 0))
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt; &amp;", Escape("<b>hi</b> &"))
}
