package services

import (
	"fmt"
	"math"
	"strings"
	"time"

	"recall-ai/internal/models"
)

// AdvanceResult is either the next question to show or, after the last
// question, a completion summary.
type AdvanceResult struct {
	Question  string  `json:"question,omitempty"`
	Index     int     `json:"index"`
	Total     int     `json:"total"`
	Completed bool    `json:"completed"`
	Summary   string  `json:"summary,omitempty"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Advance moves the progress index by dir (+1 or -1) with wraparound.
// Stepping forward past the last question resets the index to 0 and returns a
// completion summary instead of a question. Stepping back from 0 lands on the
// last question. Every question shown is appended to the history.
func Advance(p *models.QuestionProgress, questions []string, topic string, dir int, now time.Time) (AdvanceResult, error) {
	n := len(questions)
	if n == 0 {
		return AdvanceResult{}, ErrNoQuestions
	}
	if dir >= 0 {
		dir = 1
	} else {
		dir = -1
	}

	next := p.CurrentIndex + dir
	if next >= n {
		p.CurrentIndex = 0
		accuracy := float64(p.CorrectCount) / float64(n) * 100
		return AdvanceResult{
			Index:     0,
			Total:     n,
			Completed: true,
			Accuracy:  accuracy,
			Summary:   completionSummary(topic, n, p.CorrectCount, accuracy),
		}, nil
	}
	if next < 0 {
		next = n - 1
	}

	p.CurrentIndex = next
	p.History = append(p.History, models.HistoryEntry{Index: next, Question: questions[next], Timestamp: now})
	return AdvanceResult{Question: questions[next], Index: next, Total: n}, nil
}

func completionSummary(topic string, total, correct int, accuracy float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You've completed all %d questions on %s! You correctly answered approximately %d questions (%.1f%% accuracy). ",
		total, topic, correct, accuracy)
	if accuracy < 70 {
		b.WriteString("Would you like to try again with the same questions, or would you prefer a different topic or difficulty level?")
	} else {
		b.WriteString("Great job! Would you like to try a different topic or difficulty level?")
	}
	return b.String()
}

// ClassifyFeedback reads the verdict out of free-form feedback text with a
// keyword search. It is a heuristic: feedback that merely mentions "the
// correct option" while rejecting the answer can still be read as correct.
func ClassifyFeedback(feedback string) models.Evaluation {
	lower := strings.ToLower(feedback)
	switch {
	case strings.Contains(lower, "partially") || strings.Contains(lower, "partly"):
		return models.EvaluationPartiallyCorrect
	case strings.Contains(lower, "correct") &&
		!strings.Contains(lower, "incorrect") &&
		!strings.Contains(lower, "not correct"):
		return models.EvaluationCorrect
	default:
		return models.EvaluationIncorrect
	}
}

// Mastery computes (correct + 0.5*partial) / evaluated, clamped to [0,1] and
// rounded to two decimals. It is 0 until something has been evaluated.
func Mastery(p models.QuestionProgress) float64 {
	total := p.TotalEvaluated()
	if total <= 0 {
		return 0
	}
	score := (float64(p.CorrectCount) + 0.5*float64(p.PartiallyCorrectCount)) / float64(total)
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100
}

// ProgressTracker records evaluated answers against a progress record.
type ProgressTracker struct {
	reviews *ReviewScheduler
}

func NewProgressTracker(reviews *ReviewScheduler) *ProgressTracker {
	if reviews == nil {
		reviews = NewReviewScheduler()
	}
	return &ProgressTracker{reviews: reviews}
}

// RecordEvaluation counts one graded answer for the current question and
// refreshes mastery and the question's review schedule.
func (t *ProgressTracker) RecordEvaluation(p *models.QuestionProgress, question, answer, feedback string, eval models.Evaluation, now time.Time) error {
	switch eval {
	case models.EvaluationCorrect:
		p.CorrectCount++
	case models.EvaluationPartiallyCorrect:
		p.PartiallyCorrectCount++
	default:
		eval = models.EvaluationIncorrect
		p.IncorrectCount++
	}
	p.LastEvaluation = eval
	p.MasteryLevel = Mastery(*p)
	p.AnsweredQuestions = append(p.AnsweredQuestions, models.AnsweredQuestion{
		Index:      p.CurrentIndex,
		Question:   question,
		Answer:     answer,
		Evaluation: eval,
		Feedback:   feedback,
		Timestamp:  now,
	})
	if _, err := t.reviews.Review(p, p.CurrentIndex, eval, now); err != nil {
		return fmt.Errorf("schedule review: %w", err)
	}
	return nil
}

// DueQuestions lists question indexes due for another review.
func (t *ProgressTracker) DueQuestions(p models.QuestionProgress, now time.Time) []int {
	return t.reviews.DueQuestions(p, now)
}

// ResetProgress clears navigation and scoring for a fresh question set.
func ResetProgress(now time.Time, questions []string) models.QuestionProgress {
	p := models.QuestionProgress{
		History:           []models.HistoryEntry{},
		AnsweredQuestions: []models.AnsweredQuestion{},
		SkippedQuestions:  []int{},
	}
	if len(questions) > 0 {
		p.History = append(p.History, models.HistoryEntry{Index: 0, Question: questions[0], Timestamp: now})
	}
	return p
}

// ApplyUpdate sets the directly editable progress fields from a client
// payload. Values are validated before anything is written, so a bad field
// leaves p untouched.
func ApplyUpdate(p *models.QuestionProgress, fields map[string]any, nQuestions int) error {
	next := *p
	for key, raw := range fields {
		switch key {
		case "current_index":
			n, err := intField(key, raw)
			if err != nil {
				return err
			}
			if n < 0 || (nQuestions > 0 && n >= nQuestions) || (nQuestions == 0 && n != 0) {
				return fmt.Errorf("%w: current_index %d out of range", ErrInvalidInput, n)
			}
			next.CurrentIndex = n
		case "correct_count", "partially_correct_count", "incorrect_count":
			n, err := intField(key, raw)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("%w: %s must not be negative", ErrInvalidInput, key)
			}
			switch key {
			case "correct_count":
				next.CorrectCount = n
			case "partially_correct_count":
				next.PartiallyCorrectCount = n
			default:
				next.IncorrectCount = n
			}
		case "skipped_questions":
			list, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("%w: skipped_questions must be a list", ErrInvalidInput)
			}
			skipped := make([]int, 0, len(list))
			for _, v := range list {
				n, err := intField(key, v)
				if err != nil {
					return err
				}
				skipped = append(skipped, n)
			}
			next.SkippedQuestions = skipped
		case "action":
		default:
			return fmt.Errorf("%w: field %q cannot be updated", ErrInvalidInput, key)
		}
	}
	next.MasteryLevel = Mastery(next)
	*p = next
	return nil
}

func intField(key string, raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidInput, key)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidInput, key)
	}
}
