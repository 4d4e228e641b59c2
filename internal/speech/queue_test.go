package speech

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai/internal/models"
)

func item(text string, p models.Priority) models.SpeechItem {
	return models.SpeechItem{Text: text, ContextID: "ctx_" + text, Priority: p}
}

func texts(q []models.SpeechItem) []string {
	out := make([]string, len(q))
	for i, it := range q {
		out[i] = it.Text
	}
	return out
}

func TestInsertPriorityOrder(t *testing.T) {
	var q []models.SpeechItem
	var pos int

	q, pos = Insert(q, item("A", models.PriorityNormal))
	assert.Equal(t, 0, pos)
	q, pos = Insert(q, item("B", models.PriorityHigh))
	assert.Equal(t, 0, pos)
	q, pos = Insert(q, item("C", models.PriorityLow))
	assert.Equal(t, 2, pos)
	q, pos = Insert(q, item("D", models.PriorityHigh))
	assert.Equal(t, 1, pos)

	assert.Equal(t, []string{"B", "D", "A", "C"}, texts(q))
}

func TestInsertKeepsArrivalOrderWithinPriority(t *testing.T) {
	var q []models.SpeechItem
	for _, name := range []string{"n1", "n2", "n3"} {
		q, _ = Insert(q, item(name, models.PriorityNormal))
	}
	q, _ = Insert(q, item("l1", models.PriorityLow))
	q, _ = Insert(q, item("n4", models.PriorityNormal))

	assert.Equal(t, []string{"n1", "n2", "n3", "n4", "l1"}, texts(q))
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want models.Priority
		err  bool
	}{
		{"", models.PriorityNormal, false},
		{"HIGH", models.PriorityHigh, false},
		{" low ", models.PriorityLow, false},
		{"normal", models.PriorityNormal, false},
		{"urgent", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"single", "Hello there", []string{"Hello there"}},
		{"three", "One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"decimal stays", "Pi is 3.14 roughly. Yes.", []string{"Pi is 3.14 roughly.", "Yes."}},
		{"newlines", "First.\n\nSecond.", []string{"First.", "Second."}},
		{"blank", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}

func TestNewContextID(t *testing.T) {
	now := time.Unix(1700000000, 0)
	id := NewContextID(now)
	assert.Regexp(t, `^ctx_1700000000_[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, NewContextID(now))
}
