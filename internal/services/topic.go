package services

import (
	"regexp"
	"strings"

	"recall-ai/internal/models"
)

var topicIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:help me|I want to|I'd like to|can you help me|I need to|let's|let me) (?:review|study|learn|practice|go over|understand) ([\w\s\-']+)`),
	regexp.MustCompile(`(?i)(?:review|study|learn about|practice|quiz me on|test me on) ([\w\s\-']+)`),
	regexp.MustCompile(`(?i)I'm (?:studying|learning|reviewing) ([\w\s\-']+)`),
	regexp.MustCompile(`(?i)(?:questions|quiz|test) (?:about|on|regarding|for|related to) ([\w\s\-']+)`),
}

var fillerPhrases = regexp.MustCompile(`(?i)(?:please |can you |I want to |help me |quiz me |test me )`)

type difficultyRule struct {
	level   models.Difficulty
	pattern *regexp.Regexp
}

// Checked in order; the first hit wins.
var topicDifficultyRules = []difficultyRule{
	{models.DifficultyBasic, regexp.MustCompile(`(?i)(?:basic|beginner|elementary|simple|easy|introductory|fundamental)`)},
	{models.DifficultyIntermediate, regexp.MustCompile(`(?i)(?:intermediate|moderate|medium|middle-level)`)},
	{models.DifficultyAdvanced, regexp.MustCompile(`(?i)(?:advanced|difficult|complex|hard|expert|challenging|in-depth)`)},
	{models.DifficultyMixed, regexp.MustCompile(`(?i)(?:mixed|varied|all levels|different levels|range of)`)},
}

var changeDifficultyRules = []difficultyRule{
	{models.DifficultyBasic, regexp.MustCompile(`(?i)(?:basic|beginner|elementary|simple|easy|easier)`)},
	{models.DifficultyIntermediate, regexp.MustCompile(`(?i)(?:intermediate|moderate|medium)`)},
	{models.DifficultyAdvanced, regexp.MustCompile(`(?i)(?:advanced|difficult|complex|hard|challenging)`)},
	{models.DifficultyMixed, regexp.MustCompile(`(?i)(?:mixed|varied|all levels|different levels)`)},
}

// TopicRequest is what a free-text study request resolves to.
type TopicRequest struct {
	Topic      string
	Difficulty models.Difficulty
}

// ExtractTopic pulls a topic and difficulty out of a study request. Topic
// indicators are tried in order; without a match the whole message minus
// filler phrases becomes the topic. Difficulty defaults to mixed.
func ExtractTopic(message string) TopicRequest {
	topic := ""
	for _, re := range topicIndicators {
		if m := re.FindStringSubmatch(message); m != nil {
			topic = cleanTopic(m[1])
			break
		}
	}
	if topic == "" {
		topic = cleanTopic(fillerPhrases.ReplaceAllString(message, ""))
	}

	difficulty := models.DifficultyMixed
	for _, rule := range topicDifficultyRules {
		if rule.pattern.MatchString(message) {
			difficulty = rule.level
			break
		}
	}
	return TopicRequest{Topic: topic, Difficulty: difficulty}
}

var leadingStopWords = map[string]bool{
	"i": true, "i'd": true, "need": true, "want": true, "like": true, "a": true, "an": true,
	"let's": true, "lets": true, "please": true, "can": true, "we": true, "do": true, "try": true,
	"to": true, "on": true, "about": true,
}

// ExtractNewTopic resolves the target of a topic switch. It behaves like
// ExtractTopic, except that the fallback also drops the switch phrases, so
// "switch to chemistry" yields "chemistry" and a bare "new topic" yields "".
func ExtractNewTopic(message string) TopicRequest {
	req := ExtractTopic(message)
	for _, re := range topicIndicators {
		if re.MatchString(message) {
			return req
		}
	}
	rest := strings.ToLower(fillerPhrases.ReplaceAllString(message, ""))
	for _, phrase := range newTopicPhrases {
		rest = strings.ReplaceAll(rest, phrase, " ")
	}
	words := strings.Fields(strings.Trim(rest, " :,-"))
	for len(words) > 0 && leadingStopWords[strings.Trim(words[0], ":,")] {
		words = words[1:]
	}
	rest = strings.Join(words, " ")
	req.Topic = cleanTopic(rest)
	return req
}

// ExtractDifficulty returns the difficulty named in a change request.
func ExtractDifficulty(message string) (models.Difficulty, bool) {
	for _, rule := range changeDifficultyRules {
		if rule.pattern.MatchString(message) {
			return rule.level, true
		}
	}
	return "", false
}

func cleanTopic(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".,?!")
	return strings.TrimSpace(s)
}
