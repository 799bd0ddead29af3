package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	FlagSpamLinks          = "spam_links"
	FlagSuspiciousPatterns = "suspicious_patterns"
	FlagRepetitiveContent  = "repetitive_content"
	FlagExcessiveCaps      = "excessive_caps"
	FlagModerationFailed   = "moderation_failed"
	FlagEmptyContent       = "empty_content"
	FlagTooLong            = "too_long"
)

var (
	linkPattern = regexp.MustCompile(`(?i)\b(https?://|www\.)\S+`)

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bbuy\s+now\b`),
		regexp.MustCompile(`(?i)\bclick\s+here\b`),
		regexp.MustCompile(`(?i)\blimited\s+time\s+offer\b`),
		regexp.MustCompile(`(?i)\b(free\s+money|make\s+money\s+fast|earn\s+\$\d+)`),
		regexp.MustCompile(`(?i)\bact\s+now\b`),
		regexp.MustCompile(`\${2,}`),
	}

	wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)
)

// finding is one heuristic hit with the confidence it leaves behind
type finding struct {
	flag       string
	confidence float64
}

// heuristic inspects content independently of the rule set
type heuristic func(content string) *finding

func defaultHeuristics() []heuristic {
	return []heuristic{
		detectSpamLinks,
		detectSuspiciousPatterns,
		detectRepetition,
		detectExcessiveCaps,
	}
}

func detectSpamLinks(content string) *finding {
	if len(linkPattern.FindAllString(content, -1)) > 2 {
		return &finding{flag: FlagSpamLinks, confidence: 0.6}
	}
	return nil
}

func detectSuspiciousPatterns(content string) *finding {
	for _, re := range suspiciousPatterns {
		if re.MatchString(content) {
			return &finding{flag: FlagSuspiciousPatterns, confidence: 0.6}
		}
	}
	return nil
}

// detectRepetition flags content where one word makes up over 30% of ten or more words
func detectRepetition(content string) *finding {
	words := wordPattern.FindAllString(strings.ToLower(content), -1)
	if len(words) < 10 {
		return nil
	}
	counts := make(map[string]int, len(words))
	top := 0
	for _, w := range words {
		counts[w]++
		if counts[w] > top {
			top = counts[w]
		}
	}
	if float64(top)/float64(len(words)) > 0.3 {
		return &finding{flag: FlagRepetitiveContent, confidence: 0.6}
	}
	return nil
}

// detectExcessiveCaps flags shouting: over 70% uppercase across ten or more letters
func detectExcessiveCaps(content string) *finding {
	letters, upper := 0, 0
	for _, r := range content {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters >= 10 && float64(upper)/float64(letters) > 0.7 {
		return &finding{flag: FlagExcessiveCaps, confidence: 0.8}
	}
	return nil
}
