package services

import (
	"strings"
	"unicode/utf8"
)

// QuestionParseFailure is returned as the only element of a question list when
// nothing usable could be parsed. It is data, not an error: callers check it
// with IsParseFailure.
const QuestionParseFailure = "Could not generate valid active recall questions. Please try again with a different topic."

const (
	minQuestionLength    = 15
	maxFallbackQuestions = 10
)

var questionLeadWords = []string{"what", "how", "why", "describe", "explain", "define", "identify", "list", "compare"}

// IsParseFailure reports whether qs is the parse-failure sentinel.
func IsParseFailure(qs []string) bool {
	return len(qs) == 1 && qs[0] == QuestionParseFailure
}

// ParseQuestions reduces free model output to an ordered list of questions.
//
//  1. Numbered items ("1." or "1)") running to the next numbered line or the end.
//  2. Items kept only if IsValidQuestion.
//  3. With none left, every line containing "?" and at least 15 characters, at most 10.
//  4. With still none, the single-element QuestionParseFailure list.
func ParseQuestions(raw string) []string {
	var valid []string
	for _, item := range numberedItems(raw) {
		item = strings.TrimSpace(item)
		if item != "" && IsValidQuestion(item) {
			valid = append(valid, item)
		}
	}
	if len(valid) > 0 {
		return valid
	}

	var fallback []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(line, "?") && utf8.RuneCountInString(line) >= minQuestionLength {
			fallback = append(fallback, line)
			if len(fallback) == maxFallbackQuestions {
				break
			}
		}
	}
	if len(fallback) > 0 {
		return fallback
	}

	return []string{QuestionParseFailure}
}

// IsValidQuestion accepts text of at least 15 characters that contains a
// question mark or starts with a question-leading word. A shorter item is
// kept only when it is a complete question of three or more words, so
// "What is X?" survives while "Why?" does not.
func IsValidQuestion(q string) bool {
	if utf8.RuneCountInString(q) < minQuestionLength && !isTerseQuestion(q) {
		return false
	}
	lower := strings.ToLower(q)
	if strings.Contains(lower, "?") {
		return true
	}
	for _, w := range questionLeadWords {
		if strings.HasPrefix(lower, w) {
			return true
		}
	}
	return false
}

func isTerseQuestion(q string) bool {
	return strings.HasSuffix(q, "?") && len(strings.Fields(q)) >= 3
}

// numberedItems returns the text after each "<digits>. " or "<digits>) "
// marker up to the next newline that starts another marker, or the end of
// the input.
func numberedItems(raw string) []string {
	var items []string
	pos := 0
	for pos < len(raw) {
		start := findMarker(raw, pos)
		if start < 0 {
			break
		}
		body := start
		for body < len(raw) && isSpace(raw[body]) {
			body++
		}
		end := body
		for end < len(raw) {
			if raw[end] == '\n' && (markerLen(raw, end+1) > 0 || end == len(raw)-1) {
				break
			}
			end++
		}
		items = append(items, raw[body:end])
		pos = end
	}
	return items
}

// findMarker returns the offset just past the first marker at or after pos, or -1.
func findMarker(s string, pos int) int {
	for i := pos; i < len(s); i++ {
		if n := markerLen(s, i); n > 0 {
			return i + n
		}
	}
	return -1
}

// markerLen returns the length of a "<digits>[.)]" marker starting at i, or 0.
func markerLen(s string, i int) int {
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == i || j >= len(s) {
		return 0
	}
	if s[j] == '.' || s[j] == ')' {
		return j - i + 1
	}
	return 0
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// SubjectCategory selects subject-specific prompt guidance.
type SubjectCategory string

const (
	SubjectMath       SubjectCategory = "math"
	SubjectScience    SubjectCategory = "science"
	SubjectHistory    SubjectCategory = "history"
	SubjectLanguage   SubjectCategory = "language"
	SubjectArts       SubjectCategory = "arts"
	SubjectTechnology SubjectCategory = "technology"
	SubjectGeneral    SubjectCategory = "general"
)

var subjectKeywords = []struct {
	category SubjectCategory
	keywords []string
}{
	{SubjectMath, []string{"math", "algebra", "calculus", "geometry", "statistics", "probability", "equation", "function", "theorem", "number"}},
	{SubjectScience, []string{"science", "biology", "chemistry", "physics", "astronomy", "geology", "molecule", "cell", "atom", "energy", "force"}},
	{SubjectHistory, []string{"history", "war", "civilization", "empire", "revolution", "century", "ancient", "medieval", "modern", "president", "king"}},
	{SubjectLanguage, []string{"language", "grammar", "syntax", "vocabulary", "literature", "writing", "reading", "speaking", "english", "spanish"}},
	{SubjectArts, []string{"art", "music", "painting", "sculpture", "dance", "theater", "film", "design", "photography", "architecture"}},
	{SubjectTechnology, []string{"technology", "computer", "software", "hardware", "programming", "code", "algorithm", "data", "internet", "digital"}},
}

// ClassifyTopic picks the first category with a keyword contained in topic.
func ClassifyTopic(topic string) SubjectCategory {
	lower := strings.ToLower(topic)
	for _, s := range subjectKeywords {
		for _, kw := range s.keywords {
			if strings.Contains(lower, kw) {
				return s.category
			}
		}
	}
	return SubjectGeneral
}
