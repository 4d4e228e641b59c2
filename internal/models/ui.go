package models

import (
	"fmt"
	"time"
)

// Merge applies a partial client update. Known flags are replaced, visualizer
// settings are merged key by key, and anything else is kept in Extra.
func (u *UIState) Merge(update map[string]any, now time.Time) error {
	for key, raw := range update {
		switch key {
		case "is_assistant_speaking":
			v, ok := raw.(bool)
			if !ok {
				return fieldError(key, "boolean")
			}
			u.IsAssistantSpeaking = v
		case "is_microphone_active":
			v, ok := raw.(bool)
			if !ok {
				return fieldError(key, "boolean")
			}
			u.IsMicrophoneActive = v
		case "is_continuous_listening":
			v, ok := raw.(bool)
			if !ok {
				return fieldError(key, "boolean")
			}
			u.IsContinuousListening = v
		case "current_question_index":
			v, ok := raw.(float64)
			if !ok {
				return fieldError(key, "number")
			}
			u.CurrentQuestionIndex = int(v)
		case "visualizer_settings":
			settings, ok := raw.(map[string]any)
			if !ok {
				return fieldError(key, "object")
			}
			if err := u.Visualizer.merge(settings); err != nil {
				return err
			}
		case "last_interaction_time":
			// server owned
		default:
			if u.Extra == nil {
				u.Extra = make(map[string]any)
			}
			u.Extra[key] = raw
		}
	}
	u.LastInteractionTime = now
	return nil
}

func (v *VisualizerSettings) merge(update map[string]any) error {
	for key, raw := range update {
		switch key {
		case "num_bars":
			n, ok := raw.(float64)
			if !ok {
				return fieldError("visualizer_settings."+key, "number")
			}
			v.NumBars = int(n)
		case "sensitivity":
			n, ok := raw.(float64)
			if !ok {
				return fieldError("visualizer_settings."+key, "number")
			}
			v.Sensitivity = n
		case "color":
			s, ok := raw.(string)
			if !ok {
				return fieldError("visualizer_settings."+key, "string")
			}
			v.Color = s
		}
	}
	return nil
}

func fieldError(field, kind string) error {
	return fmt.Errorf("%s must be a %s", field, kind)
}
