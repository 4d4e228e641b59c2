package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuestionsNumbered(t *testing.T) {
	got := ParseQuestions("1. What is X?\n2. How does Y work?")
	assert.Equal(t, []string{"What is X?", "How does Y work?"}, got)
}

func TestParseQuestionsNumberedVariants(t *testing.T) {
	raw := `Here are your questions:
1) What is the primary function of chlorophyll?
2. Explain how light-dependent reactions produce ATP
   and NADPH in the thylakoid membrane.
3. Short one
10. Why do plants appear green to the human eye?`

	got := ParseQuestions(raw)
	require.Len(t, got, 3)
	assert.Equal(t, "What is the primary function of chlorophyll?", got[0])
	assert.True(t, strings.HasPrefix(got[1], "Explain how light-dependent reactions"))
	assert.Contains(t, got[1], "thylakoid membrane.")
	assert.Equal(t, "Why do plants appear green to the human eye?", got[2])
}

func TestParseQuestionsFallsBackToQuestionLines(t *testing.T) {
	raw := `Sure! Let's test your knowledge.
What role does the Calvin cycle play?
Where in the cell does glycolysis happen?
Which molecule carries energy in most cells?
Good luck!`

	got := ParseQuestions(raw)
	assert.Equal(t, []string{
		"What role does the Calvin cycle play?",
		"Where in the cell does glycolysis happen?",
		"Which molecule carries energy in most cells?",
	}, got)
}

func TestParseQuestionsFallbackLengthBoundary(t *testing.T) {
	assert.Equal(t, []string{"Where is Paris?"}, ParseQuestions("Where is Paris?\nWhere is Rome?"))
}

func TestParseQuestionsFallbackCapsAtTen(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 14; i++ {
		b.WriteString("Is this a long enough question line?\n")
	}
	assert.Len(t, ParseQuestions(b.String()), 10)
}

func TestParseQuestionsSentinel(t *testing.T) {
	got := ParseQuestions("I cannot help with that.\nNo questions here.")
	require.Equal(t, []string{QuestionParseFailure}, got)
	assert.True(t, IsParseFailure(got))
	assert.False(t, IsParseFailure([]string{"What is a cell membrane made of?"}))
	assert.False(t, IsParseFailure([]string{QuestionParseFailure, "extra"}))
}

func TestIsValidQuestion(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"What is X?", true},
		{"Describe the process of mitosis", true},
		{"compare TCP and UDP transport", true},
		{"The mitochondria is the powerhouse", false},
		{"Why?", false},
		{"Short one", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidQuestion(tt.in))
		})
	}
}

func TestClassifyTopic(t *testing.T) {
	assert.Equal(t, SubjectMath, ClassifyTopic("linear algebra"))
	assert.Equal(t, SubjectScience, ClassifyTopic("Photosynthesis in biology"))
	assert.Equal(t, SubjectHistory, ClassifyTopic("the French Revolution"))
	assert.Equal(t, SubjectGeneral, ClassifyTopic("knitting patterns"))
}

func TestBuildQuestionPrompt(t *testing.T) {
	p := BuildQuestionPrompt("calculus", "advanced")
	assert.Contains(t, p, `"calculus"`)
	assert.Contains(t, p, "Difficulty level: Advanced")
	assert.Contains(t, p, "step-by-step problem-solving")

	p = BuildQuestionPrompt("knitting", "unknown")
	assert.Contains(t, p, "Difficulty level: Mixed")
}
