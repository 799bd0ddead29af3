package markdown

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphPattern = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	listItemPattern  = regexp.MustCompile(`(?s)<li>(.*?)</li>\n?`)
	trailingBreaks   = regexp.MustCompile(`(?:\s|<br\s*/?>)+$`)
	codeBlockPattern = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	tagPattern       = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?/?>`)
	newlinesPattern  = regexp.MustCompile(`\n{3,}`)
	whitespace       = regexp.MustCompile(`\s+`)

	supportedTags = map[string]bool{
		"b": true, "i": true, "u": true, "s": true,
		"code": true, "pre": true, "a": true,
	}

	tagReplacer = strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<ul>\n", "", "</ul>\n", "", "<ol>\n", "", "</ol>\n", "",
		"<br>", "\n", "<br />", "\n",
	)
)

// ToTelegramHTML converts a community post written in markdown to the HTML
// subset Telegram accepts
func ToTelegramHTML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}

	out := string(blackfriday.Run([]byte(markdown),
		blackfriday.WithExtensions(blackfriday.CommonExtensions|blackfriday.HardLineBreak)))
	return cleanHTMLForTelegram(out)
}

// cleanHTMLForTelegram rewrites blackfriday output for Telegram
func cleanHTMLForTelegram(out string) string {
	out = paragraphPattern.ReplaceAllString(out, "$1\n")
	out = codeBlockPattern.ReplaceAllString(out, "<pre>$1</pre>")
	// one bullet per line, whatever breaks blackfriday left inside the item
	out = listItemPattern.ReplaceAllStringFunc(out, func(match string) string {
		item := strings.TrimSpace(listItemPattern.FindStringSubmatch(match)[1])
		return "• " + trailingBreaks.ReplaceAllString(item, "") + "\n"
	})
	out = tagReplacer.Replace(out)

	out = tagPattern.ReplaceAllStringFunc(out, func(match string) string {
		name := tagPattern.FindStringSubmatch(match)[1]
		if supportedTags[strings.ToLower(name)] {
			return match
		}
		return ""
	})

	out = newlinesPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Preview collapses whitespace and cuts content to at most n runes,
// marking the cut with an ellipsis
func Preview(content string, n int) string {
	flat := strings.TrimSpace(whitespace.ReplaceAllString(content, " "))
	if n <= 0 || utf8.RuneCountInString(flat) <= n {
		return flat
	}
	runes := []rune(flat)
	if n == 1 {
		return "…"
	}
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}

// Escape escapes plain text for Telegram HTML mode
func Escape(text string) string {
	return html.EscapeString(text)
}
