package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai/internal/llm"
	"recall-ai/internal/models"
)

const generatedSet = `1. What is the primary pigment in photosynthesis?
2. How does the Calvin cycle fix carbon dioxide?
3. Why do plants need sunlight to make glucose?`

func newTestDialogue(responses ...llm.MockResponse) (*DialogueService, *llm.MockProvider, *models.Session) {
	mock := llm.NewMockProvider(responses...)
	d := NewDialogueService(NewAIService(mock), nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d.SetClock(func() time.Time { return now })
	return d, mock, models.NewSession("s1", now, models.TTSPreferences{})
}

func activeSession(t *testing.T, d *DialogueService, sess *models.Session) {
	t.Helper()
	reply := d.Respond(context.Background(), sess, "I want to review photosynthesis")
	require.True(t, reply.HasTopic)
}

func TestRespondStartsTopic(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})

	reply := d.Respond(context.Background(), sess, "I want to review photosynthesis")

	assert.True(t, reply.HasTopic)
	assert.Equal(t, "photosynthesis", sess.TopicName())
	assert.Equal(t, models.DifficultyMixed, sess.Difficulty)
	assert.Len(t, sess.Questions, 3)
	assert.Equal(t, models.SourceTopic, sess.QuestionSource)
	assert.True(t, strings.HasPrefix(reply.Text, "Great! I'll help you review photosynthesis at Mixed (Basic to Advanced) difficulty level. I've prepared 3 active recall questions"))
	assert.True(t, strings.HasSuffix(reply.Text, sess.Questions[0]))
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, models.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, models.RoleAssistant, sess.Messages[1].Role)

	require.Equal(t, 1, mock.CallCount())
	assert.Equal(t, questionMaxTokens, mock.Calls[0].MaxTokens)
	assert.Equal(t, 0.7, mock.Calls[0].Temperature)
}

func TestRespondGenerationFailureKeepsNoTopic(t *testing.T) {
	d, _, sess := newTestDialogue(llm.MockResponse{Err: &llm.ErrProviderUnavailable{}})

	reply := d.Respond(context.Background(), sess, "I want to review photosynthesis")

	assert.False(t, reply.HasTopic)
	assert.Nil(t, sess.Topic)
	assert.Empty(t, sess.Questions)
	assert.Contains(t, reply.Text, "I couldn't generate questions about photosynthesis")
}

func TestRespondParseFailureIsSoftFailure(t *testing.T) {
	d, _, sess := newTestDialogue(llm.MockResponse{Text: "Sorry, I can't do that."})

	reply := d.Respond(context.Background(), sess, "I want to review photosynthesis")

	assert.False(t, reply.HasTopic)
	assert.Empty(t, sess.Questions)
}

func TestRespondWithoutAIIsAnApology(t *testing.T) {
	d := NewDialogueService(NewAIService(nil), nil)
	sess := models.NewSession("s1", time.Now(), models.TTSPreferences{})

	reply := d.Respond(context.Background(), sess, "I want to review photosynthesis")
	assert.False(t, reply.HasTopic)
	assert.Contains(t, reply.Text, "I apologize")
}

func TestRespondNextQuestionAndCompletion(t *testing.T) {
	d, _, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)

	reply := d.Respond(context.Background(), sess, "next question")
	assert.Equal(t, "Question 2 of 3:\n\n"+sess.Questions[1], reply.Text)

	d.Respond(context.Background(), sess, "next")
	reply = d.Respond(context.Background(), sess, "next")
	assert.Contains(t, reply.Text, "You've completed all 3 questions on photosynthesis!")
	assert.Equal(t, 0, sess.Progress.CurrentIndex)
	assert.Equal(t, 0, sess.UI.CurrentQuestionIndex)
}

func TestRespondChangeDifficulty(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)
	sess.Progress.CurrentIndex = 2

	mock.AddResponse(llm.MockResponse{Text: "1. What is chlorophyll made of?\n2. How is ATP produced in chloroplasts?"})
	reply := d.Respond(context.Background(), sess, "let's try a harder question")

	assert.Equal(t, models.DifficultyAdvanced, sess.Difficulty)
	assert.Equal(t, "photosynthesis", sess.TopicName())
	assert.Len(t, sess.Questions, 2)
	assert.Equal(t, 0, sess.Progress.CurrentIndex)
	assert.True(t, strings.HasPrefix(reply.Text, "I've updated the difficulty to Advanced for topic photosynthesis."))
}

func TestRespondChangeDifficultyFailureKeepsQuestions(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)
	before := append([]string(nil), sess.Questions...)

	mock.AddResponse(llm.MockResponse{Err: &llm.ErrRateLimit{}})
	d.Respond(context.Background(), sess, "make it easier")

	assert.Equal(t, before, sess.Questions)
	assert.Equal(t, models.DifficultyMixed, sess.Difficulty)
}

func TestRespondNewTopic(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)

	mock.AddResponse(llm.MockResponse{Text: "1. What is a covalent bond?\n2. How do catalysts speed up reactions?"})
	reply := d.Respond(context.Background(), sess, "switch to organic chemistry")

	assert.Equal(t, "organic chemistry", sess.TopicName())
	assert.True(t, strings.HasPrefix(reply.Text, "I've switched to helping you review organic chemistry"))
}

func TestRespondBareNewTopicFallsThrough(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)

	mock.AddResponse(llm.MockResponse{Text: "That answer is incorrect."})
	d.Respond(context.Background(), sess, "I need a new topic")

	assert.Equal(t, "photosynthesis", sess.TopicName())
	assert.Equal(t, 1, sess.Progress.IncorrectCount)
}

func TestRespondHintDoesNotTouchProgress(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)
	before := sess.Progress

	mock.AddResponse(llm.MockResponse{Text: "Think about the colour of leaves."})
	reply := d.Respond(context.Background(), sess, "can I get a hint")

	assert.Equal(t, "Think about the colour of leaves.", reply.Text)
	assert.Equal(t, before.TotalEvaluated(), sess.Progress.TotalEvaluated())
	assert.Equal(t, hintMaxTokens, mock.Calls[1].MaxTokens)
	assert.Contains(t, mock.Calls[1].Messages[0].Content, sess.Questions[0])
}

func TestRespondCorrectAnswer(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)

	mock.AddResponse(llm.MockResponse{Text: "Correct! Chlorophyll is the main pigment."})
	reply := d.Respond(context.Background(), sess, "chlorophyll")

	assert.True(t, strings.HasSuffix(reply.Text, readyForNextSuffix))
	assert.Equal(t, 1, sess.Progress.CorrectCount)
	assert.Equal(t, 1.0, sess.Progress.MasteryLevel)
	assert.Equal(t, feedbackMaxTokens, mock.Calls[1].MaxTokens)
}

func TestRespondFeedbackFailure(t *testing.T) {
	d, mock, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)

	mock.AddResponse(llm.MockResponse{Err: &llm.ErrProviderUnavailable{}})
	reply := d.Respond(context.Background(), sess, "chlorophyll")

	assert.Equal(t, evaluationFailed, reply.Text)
	assert.Equal(t, 0, sess.Progress.TotalEvaluated())
}

func TestNavigateAppendsMessages(t *testing.T) {
	d, _, sess := newTestDialogue(llm.MockResponse{Text: generatedSet})
	activeSession(t, d, sess)

	res, err := d.Navigate(sess, -1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Index)
	assert.Equal(t, "Let's go back to this question: "+sess.Questions[2], sess.Messages[len(sess.Messages)-1].Content)
}
