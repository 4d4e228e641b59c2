package services

import (
	"fmt"
	"sort"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"

	"recall-ai/internal/models"
)

// ReviewScheduler keeps an FSRS card per question so evaluated answers also
// produce a spaced-repetition schedule for the question set.
type ReviewScheduler struct {
	params fsrs.Parameters
}

func NewReviewScheduler() *ReviewScheduler {
	return &ReviewScheduler{params: fsrs.DefaultParam()}
}

// RatingFor maps an answer evaluation to an FSRS rating.
func RatingFor(eval models.Evaluation) fsrs.Rating {
	switch eval {
	case models.EvaluationCorrect:
		return fsrs.Good
	case models.EvaluationPartiallyCorrect:
		return fsrs.Hard
	default:
		return fsrs.Again
	}
}

// Review schedules question index after an evaluation and stores the result
// in the progress record.
func (s *ReviewScheduler) Review(p *models.QuestionProgress, index int, eval models.Evaluation, now time.Time) (models.ReviewCard, error) {
	if p.Reviews == nil {
		p.Reviews = make(map[int]models.ReviewCard)
	}
	card := p.Reviews[index].ToFSRSCard()
	if card.Due.IsZero() {
		card.Due = now
	}

	rating := RatingFor(eval)
	scheduling := s.params.Repeat(card, now)
	info, ok := scheduling[rating]
	if !ok {
		return models.ReviewCard{}, fmt.Errorf("rating %d not supported", rating)
	}
	next := models.ReviewCardFromFSRS(info.Card)
	p.Reviews[index] = next
	return next, nil
}

// DueQuestions lists question indexes whose review is due at now, earliest first.
// Questions that were never reviewed are not included.
func (s *ReviewScheduler) DueQuestions(p models.QuestionProgress, now time.Time) []int {
	var due []int
	for idx, card := range p.Reviews {
		if !card.Due.After(now) {
			due = append(due, idx)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := p.Reviews[due[i]].Due, p.Reviews[due[j]].Due
		if a.Equal(b) {
			return due[i] < due[j]
		}
		return a.Before(b)
	})
	return due
}
