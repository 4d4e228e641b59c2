package speech

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"recall-ai/internal/models"
)

func rank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 0
	case models.PriorityLow:
		return 2
	default:
		return 1
	}
}

// ParsePriority accepts "", "high", "normal" and "low"; empty means normal.
func ParsePriority(s string) (models.Priority, error) {
	switch p := models.Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return models.PriorityNormal, nil
	case models.PriorityHigh, models.PriorityNormal, models.PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s)
	}
}

// Insert places item before the first queued item of strictly lower
// priority and returns the new queue and the item's position. High items
// therefore jump every normal and low item, normal items jump low ones, and
// items of equal priority keep their arrival order.
func Insert(queue []models.SpeechItem, item models.SpeechItem) ([]models.SpeechItem, int) {
	r := rank(item.Priority)
	pos := len(queue)
	for i, q := range queue {
		if rank(q.Priority) > r {
			pos = i
			break
		}
	}
	queue = append(queue, models.SpeechItem{})
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = item
	return queue, pos
}

// NewContextID returns an id of the form ctx_<unix>_<8 hex>.
func NewContextID(now time.Time) string {
	return fmt.Sprintf("ctx_%d_%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// SplitSentences breaks text after '.', '!' or '?' followed by whitespace.
// Segments are trimmed and empty ones dropped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && isSpace(text[i+1]) {
				if seg := strings.TrimSpace(text[start : i+1]); seg != "" {
					out = append(out, seg)
				}
				start = i + 1
			}
		}
	}
	if seg := strings.TrimSpace(text[start:]); seg != "" {
		out = append(out, seg)
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
