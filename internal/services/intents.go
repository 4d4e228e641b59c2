package services

import (
	"regexp"
	"strings"
)

type Intent string

const (
	IntentNewTopic         Intent = "new_topic"
	IntentNextQuestion     Intent = "next_question"
	IntentChangeDifficulty Intent = "change_difficulty"
	IntentHint             Intent = "hint"
	IntentAnswer           Intent = "answer"
)

// IntentRule maps trigger phrases or patterns to an intent. A rule matches
// when any phrase is a substring of the lowercased message or any pattern
// matches the raw message.
type IntentRule struct {
	Intent   Intent
	Phrases  []string
	Patterns []*regexp.Regexp
}

func (r IntentRule) Matches(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range r.Phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	for _, re := range r.Patterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

var newTopicPhrases = []string{
	"new topic", "different topic", "change topic", "another topic",
	"change subject", "new subject", "different subject", "another subject",
	"let's talk about", "can we discuss", "i want to learn about", "i want to review",
	"switch to", "change to", "instead of",
}

// IntentRules is evaluated top to bottom while a topic is active. Order
// resolves ambiguity: "let's try a harder question" is a difficulty change
// before it can be an answer. Anything unmatched is an answer attempt.
var IntentRules = []IntentRule{
	{
		Intent:  IntentNewTopic,
		Phrases: newTopicPhrases,
	},
	{
		Intent: IntentNextQuestion,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:next|another|different) question`),
			regexp.MustCompile(`(?i)next`),
			regexp.MustCompile(`(?i)give me (?:another|the next)`),
			regexp.MustCompile(`(?i)move(?: on)?(?: to next)?`),
			regexp.MustCompile(`(?i)let's continue`),
		},
	},
	{
		Intent: IntentChangeDifficulty,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:change|switch|adjust) (?:the )?difficulty`),
			regexp.MustCompile(`(?i)make (?:it|the questions) (?:easier|harder|more difficult|simpler)`),
			regexp.MustCompile(`(?i)(?:easier|harder|more advanced|more basic) questions?`),
			regexp.MustCompile(`(?i)(?:basic|beginner|intermediate|advanced|mixed) (?:difficulty|level|mode)`),
		},
	},
	{
		Intent:  IntentHint,
		Phrases: []string{"hint", "help"},
	},
}

// MatchingIntents lists every rule that fires, in rule order. The dialogue
// walks this list so that a rule whose payload cannot be resolved falls
// through to the next one.
func MatchingIntents(message string) []Intent {
	var out []Intent
	for _, rule := range IntentRules {
		if rule.Matches(message) {
			out = append(out, rule.Intent)
		}
	}
	return append(out, IntentAnswer)
}

// ClassifyIntent returns the first matching intent.
func ClassifyIntent(message string) Intent {
	return MatchingIntents(message)[0]
}
