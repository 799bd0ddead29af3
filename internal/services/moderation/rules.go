package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/google/uuid"
)

var (
	ErrInvalidRule   = errors.New("invalid moderation rule")
	ErrDuplicateRule = errors.New("moderation rule already exists")
	ErrRuleNotFound  = errors.New("moderation rule not found")
)

// severityConfidence is the confidence a single matching rule leaves behind
var severityConfidence = map[models.Severity]float64{
	models.SeverityLow:    0.9,
	models.SeverityMedium: 0.7,
	models.SeverityHigh:   0.5,
}

// DefaultRules is the rule set loaded at startup
func DefaultRules() []models.ModerationRule {
	return []models.ModerationRule{
		{
			ID:       "profanity",
			Name:     "Profanity",
			Pattern:  `(?i)\b(fuck|shit|bitch|bastard|asshole|cunt)\w*`,
			IsRegex:  true,
			Action:   models.RuleBlock,
			Severity: models.SeverityHigh,
			Category: "profanity",
		},
		{
			ID:       "hate-speech",
			Name:     "Hate speech",
			Pattern:  `(?i)\b(kill\s+(all|every)\s+\w+|go\s+back\s+to\s+your\s+country|subhuman)\b`,
			IsRegex:  true,
			Action:   models.RuleBlock,
			Severity: models.SeverityHigh,
			Category: "hate_speech",
		},
		{
			ID:          "self-harm",
			Name:        "Self harm",
			Pattern:     `(?i)\b(kill\s+myself|end\s+my\s+life|want\s+to\s+die|suicide)\b`,
			IsRegex:     true,
			Action:      models.RuleFlag,
			Severity:    models.SeverityHigh,
			Category:    "self_harm",
			ForceReview: true,
		},
		{
			ID:          "money-solicitation",
			Name:        "Money solicitation",
			Pattern:     `(?i)\b(send\s+me\s+money|wire\s+transfer|gift\s+cards?|crypto\s+investment|bitcoin)\b`,
			IsRegex:     true,
			Action:      models.RuleFlag,
			Severity:    models.SeverityMedium,
			Category:    "scam",
			ForceReview: true,
		},
		{
			ID:       "phone-number",
			Name:     "Phone number",
			Pattern:  `\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`,
			IsRegex:  true,
			Action:   models.RuleFlag,
			Severity: models.SeverityMedium,
			Category: "personal_info",
		},
		{
			ID:       "email-address",
			Name:     "Email address",
			Pattern:  `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
			IsRegex:  true,
			Action:   models.RuleFlag,
			Severity: models.SeverityMedium,
			Category: "personal_info",
		},
		{
			ID:       "mild-language",
			Name:     "Mild language",
			Pattern:  "damn",
			Action:   models.RuleFlag,
			Severity: models.SeverityLow,
			Category: "mild_language",
		},
		{
			ID:       "scripture-reference",
			Name:     "Scripture reference",
			Pattern:  `\b[1-3]?\s?[A-Z][a-z]+\s\d{1,3}:\d{1,3}\b`,
			IsRegex:  true,
			Action:   models.RuleAllow,
			Severity: models.SeverityLow,
			Category: "scripture",
		},
	}
}

type compiledRule struct {
	rule models.ModerationRule
	re   *regexp.Regexp
}

func compileRule(rule models.ModerationRule) (*compiledRule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" || rule.Pattern == "" {
		return nil, fmt.Errorf("%w: name and pattern are required", ErrInvalidRule)
	}
	switch rule.Action {
	case models.RuleBlock, models.RuleFlag, models.RuleAllow:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRule, rule.Action)
	}
	if _, ok := severityConfidence[rule.Severity]; !ok {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidRule, rule.Severity)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Category == "" {
		rule.Category = strings.ToLower(strings.ReplaceAll(rule.Name, " ", "_"))
	}

	expr := rule.Pattern
	if !rule.IsRegex {
		expr = keywordExpr(rule.Pattern)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return &compiledRule{rule: rule, re: re}, nil
}

// keywordExpr matches a literal case-insensitively on word boundaries
func keywordExpr(keyword string) string {
	expr := regexp.QuoteMeta(keyword)
	runes := []rune(keyword)
	if isWordRune(runes[0]) {
		expr = `\b` + expr
	}
	if isWordRune(runes[len(runes)-1]) {
		expr += `\b`
	}
	return "(?i)" + expr
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
