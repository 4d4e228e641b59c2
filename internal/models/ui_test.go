package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUIStateMergeKeepsUnchangedVisualizerKeys(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ui := DefaultUIState(now)

	var update map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"is_microphone_active": true,
		"visualizer_settings": {"color": "#ff0000"},
		"theme": "dark"
	}`), &update))

	later := now.Add(time.Minute)
	require.NoError(t, ui.Merge(update, later))

	assert.True(t, ui.IsMicrophoneActive)
	assert.Equal(t, "#ff0000", ui.Visualizer.Color)
	assert.Equal(t, 20, ui.Visualizer.NumBars)
	assert.Equal(t, 1.0, ui.Visualizer.Sensitivity)
	assert.Equal(t, "dark", ui.Extra["theme"])
	assert.Equal(t, later, ui.LastInteractionTime)
}

func TestUIStateMergeRejectsWrongType(t *testing.T) {
	ui := DefaultUIState(time.Now())
	err := ui.Merge(map[string]any{"is_assistant_speaking": "yes"}, time.Now())
	require.Error(t, err)
	assert.False(t, ui.IsAssistantSpeaking)
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("abc", time.Now(), TTSPreferences{VoiceID: "v"})
	topic := "photosynthesis"
	s.Topic = &topic
	s.Questions = []string{"What is chlorophyll?"}
	s.AuthTokens["t"] = AuthToken{Token: "t"}
	s.SpeechQueue = append(s.SpeechQueue, SpeechItem{ContextID: "c1"})

	c := s.Clone()
	*c.Topic = "changed"
	c.Questions[0] = "changed"
	c.AuthTokens["u"] = AuthToken{Token: "u"}
	c.SpeechQueue[0].ContextID = "c2"

	assert.Equal(t, "photosynthesis", *s.Topic)
	assert.Equal(t, "What is chlorophyll?", s.Questions[0])
	assert.Len(t, s.AuthTokens, 1)
	assert.Equal(t, "c1", s.SpeechQueue[0].ContextID)
}

func TestCopyDialogueLeavesSpeechAlone(t *testing.T) {
	now := time.Now()
	current := NewSession("abc", now, TTSPreferences{})
	current.SpeechQueue = []SpeechItem{{ContextID: "queued"}}
	current.UI.IsAssistantSpeaking = true

	turn := NewSession("abc", now, TTSPreferences{})
	topic := "enzymes"
	turn.Topic = &topic
	turn.Questions = []string{"What does an enzyme lower?"}
	turn.AddMessage(RoleUser, "enzymes please")
	turn.UI.CurrentQuestionIndex = 0
	turn.UpdatedAt = now.Add(time.Second)

	current.CopyDialogue(turn)
	turn.Questions[0] = "changed"

	assert.Equal(t, "enzymes", current.TopicName())
	assert.Equal(t, []string{"What does an enzyme lower?"}, current.Questions)
	assert.Len(t, current.Messages, 1)
	assert.Equal(t, "queued", current.SpeechQueue[0].ContextID)
	assert.True(t, current.UI.IsAssistantSpeaking)
	assert.Equal(t, turn.UpdatedAt, current.UpdatedAt)
}
