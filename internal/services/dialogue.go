package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"recall-ai/internal/models"
)

const (
	promptForTopic = "I'd be happy to help you study! Please specify what topic you'd like to review. " +
		"For example, 'I want to review photosynthesis' or 'Help me study Spanish verb conjugation'."
	noQuestionsReply   = "I don't have any questions prepared. Let's establish a topic first."
	noCurrentQuestion  = "I'm not sure what question you're answering. Let's start with a topic first."
	evaluationFailed   = "I apologize, but I'm having trouble evaluating your answer. Let's try again or move to the next question."
	readyForNextSuffix = "\n\nReady for the next question? Just say 'next'."
)

// Reply is the assistant's answer to one chat turn.
type Reply struct {
	Text      string
	HasTopic  bool
	Questions []string
}

// DialogueService turns a user message into an assistant reply, mutating the
// session as the conversation moves between NO_TOPIC and TOPIC_ACTIVE.
// Collaborator failures become apology text and leave topic, questions and
// progress as they were.
type DialogueService struct {
	ai       *AIService
	progress *ProgressTracker
	now      func() time.Time
}

func NewDialogueService(ai *AIService, progress *ProgressTracker) *DialogueService {
	if progress == nil {
		progress = NewProgressTracker(nil)
	}
	return &DialogueService{
		ai:       ai,
		progress: progress,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (d *DialogueService) SetClock(now func() time.Time) {
	d.now = now
}

// Respond handles one chat turn. Both the user message and the reply are
// appended to the session's messages.
func (d *DialogueService) Respond(ctx context.Context, sess *models.Session, message string) Reply {
	sess.AddMessage(models.RoleUser, message)

	var text string
	if !sess.HasTopic() {
		text = d.startTopic(ctx, sess, message)
	} else {
		text = d.continueTopic(ctx, sess, message)
	}

	now := d.now()
	sess.AddMessage(models.RoleAssistant, text)
	sess.UI.CurrentQuestionIndex = sess.Progress.CurrentIndex
	sess.UI.LastInteractionTime = now
	sess.UpdatedAt = now
	return Reply{Text: text, HasTopic: sess.HasTopic(), Questions: sess.Questions}
}

func (d *DialogueService) startTopic(ctx context.Context, sess *models.Session, message string) string {
	req := ExtractTopic(message)
	if req.Topic == "" {
		return promptForTopic
	}
	questions, ok := d.generate(ctx, req)
	if !ok {
		return fmt.Sprintf("I apologize, but I couldn't generate questions about %s. Could you please try a different topic or phrase it differently?", req.Topic)
	}
	d.install(sess, req, questions)
	return fmt.Sprintf("Great! I'll help you review %s at %s difficulty level. I've prepared %d active recall questions to test your knowledge. Let's start:\n\n%s",
		req.Topic, req.Difficulty.Label(), len(questions), questions[0])
}

func (d *DialogueService) continueTopic(ctx context.Context, sess *models.Session, message string) string {
	for _, intent := range MatchingIntents(message) {
		switch intent {
		case IntentNewTopic:
			req := ExtractNewTopic(message)
			if req.Topic == "" {
				continue
			}
			questions, ok := d.generate(ctx, req)
			if !ok {
				return fmt.Sprintf("I couldn't generate questions about %s. Could you try a different topic?", req.Topic)
			}
			d.install(sess, req, questions)
			return fmt.Sprintf("I've switched to helping you review %s at %s difficulty level. I've prepared %d new questions. Let's start:\n\n%s",
				req.Topic, req.Difficulty.Label(), len(questions), questions[0])

		case IntentNextQuestion:
			return d.nextQuestion(sess)

		case IntentChangeDifficulty:
			level, ok := ExtractDifficulty(message)
			if !ok {
				continue
			}
			req := TopicRequest{Topic: sess.TopicName(), Difficulty: level}
			questions, ok := d.generate(ctx, req)
			if !ok {
				return fmt.Sprintf("I apologize, but I couldn't generate questions about %s. Could you please try a different topic or phrase it differently?", req.Topic)
			}
			d.install(sess, req, questions)
			return fmt.Sprintf("I've updated the difficulty to %s for topic %s. Here's your first question:\n\n%s",
				level.Label(), req.Topic, questions[0])

		case IntentHint:
			return d.hint(ctx, sess)

		default:
			return d.evaluate(ctx, sess, message)
		}
	}
	return d.evaluate(ctx, sess, message)
}

func (d *DialogueService) generate(ctx context.Context, req TopicRequest) ([]string, bool) {
	questions, err := d.ai.GenerateQuestions(ctx, req.Topic, req.Difficulty)
	if err != nil {
		log.Printf("question generation for %q failed: %v", req.Topic, err)
		return nil, false
	}
	if len(questions) == 0 || IsParseFailure(questions) {
		log.Printf("question generation for %q returned nothing usable", req.Topic)
		return nil, false
	}
	return questions, true
}

// install replaces the topic and question set and resets progress.
func (d *DialogueService) install(sess *models.Session, req TopicRequest, questions []string) {
	topic := req.Topic
	sess.Topic = &topic
	sess.Difficulty = req.Difficulty
	sess.Questions = questions
	sess.QuestionSource = models.SourceTopic
	sess.Progress = ResetProgress(d.now(), questions)
}

func (d *DialogueService) nextQuestion(sess *models.Session) string {
	res, err := Advance(&sess.Progress, sess.Questions, sess.TopicName(), +1, d.now())
	if err != nil {
		return noQuestionsReply
	}
	if res.Completed {
		return res.Summary
	}
	return fmt.Sprintf("Question %d of %d:\n\n%s", res.Index+1, res.Total, res.Question)
}

func (d *DialogueService) hint(ctx context.Context, sess *models.Session) string {
	question, ok := sess.CurrentQuestion()
	if !ok {
		return noCurrentQuestion
	}
	text, err := d.ai.Hint(ctx, question, sess.TopicName(), sess.Difficulty)
	if err != nil {
		log.Printf("hint generation failed: %v", err)
		return evaluationFailed
	}
	return text
}

func (d *DialogueService) evaluate(ctx context.Context, sess *models.Session, answer string) string {
	if _, ok := sess.CurrentQuestion(); !ok {
		return noCurrentQuestion
	}
	eval, feedback, err := d.Evaluate(ctx, sess, answer)
	if err != nil {
		log.Printf("answer evaluation failed: %v", err)
		return evaluationFailed
	}
	if eval == models.EvaluationCorrect {
		feedback += readyForNextSuffix
	}
	return feedback
}

// Evaluate grades answer against the current question and records the
// result in the session's progress. It is shared by the chat flow and the
// question-state "evaluate" action.
func (d *DialogueService) Evaluate(ctx context.Context, sess *models.Session, answer string) (models.Evaluation, string, error) {
	question, ok := sess.CurrentQuestion()
	if !ok {
		return "", "", ErrNoQuestions
	}
	feedback, err := d.ai.Feedback(ctx, question, answer, sess.TopicName(), sess.Difficulty)
	if err != nil {
		return "", "", err
	}
	eval := ClassifyFeedback(feedback)
	if err := d.progress.RecordEvaluation(&sess.Progress, question, answer, feedback, eval, d.now()); err != nil {
		log.Printf("recording evaluation: %v", err)
	}
	return eval, feedback, nil
}

// Navigate moves through the question set for the question-state API.
func (d *DialogueService) Navigate(sess *models.Session, dir int) (AdvanceResult, error) {
	res, err := Advance(&sess.Progress, sess.Questions, sess.TopicName(), dir, d.now())
	if err != nil {
		return res, err
	}
	sess.UI.CurrentQuestionIndex = sess.Progress.CurrentIndex
	switch {
	case res.Completed:
		sess.AddMessage(models.RoleAssistant, res.Summary)
	case dir < 0:
		sess.AddMessage(models.RoleAssistant, "Let's go back to this question: "+res.Question)
	default:
		sess.AddMessage(models.RoleAssistant, "Let's try this question: "+res.Question)
	}
	return res, nil
}

// DueQuestions lists question indexes whose review is due now.
func (d *DialogueService) DueQuestions(sess *models.Session) []int {
	return d.progress.DueQuestions(sess.Progress, d.now())
}
