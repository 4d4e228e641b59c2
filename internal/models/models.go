package models

import (
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Difficulty string

const (
	DifficultyBasic        Difficulty = "basic"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyMixed        Difficulty = "mixed"
)

// Label is the human-readable form used in assistant replies.
func (d Difficulty) Label() string {
	switch d {
	case DifficultyBasic:
		return "Basic"
	case DifficultyIntermediate:
		return "Intermediate"
	case DifficultyAdvanced:
		return "Advanced"
	default:
		return "Mixed (Basic to Advanced)"
	}
}

type QuestionSource string

const (
	SourceTopic QuestionSource = "topic"
	SourcePDF   QuestionSource = "pdf"
)

type Evaluation string

const (
	EvaluationCorrect          Evaluation = "correct"
	EvaluationPartiallyCorrect Evaluation = "partially_correct"
	EvaluationIncorrect        Evaluation = "incorrect"
)

// HistoryEntry records a question shown to the user.
type HistoryEntry struct {
	Index     int       `json:"question_index"`
	Question  string    `json:"question"`
	Timestamp time.Time `json:"timestamp"`
}

// AnsweredQuestion is one evaluated answer attempt.
type AnsweredQuestion struct {
	Index      int        `json:"question_index"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Evaluation Evaluation `json:"evaluation"`
	Feedback   string     `json:"feedback"`
	Timestamp  time.Time  `json:"timestamp"`
}

// QuestionProgress tracks navigation and scoring across the current question set.
type QuestionProgress struct {
	CurrentIndex          int                `json:"current_index"`
	History               []HistoryEntry     `json:"history"`
	CorrectCount          int                `json:"correct_count"`
	PartiallyCorrectCount int                `json:"partially_correct_count"`
	IncorrectCount        int                `json:"incorrect_count"`
	LastEvaluation        Evaluation         `json:"last_evaluation,omitempty"`
	MasteryLevel          float64            `json:"mastery_level"`
	AnsweredQuestions     []AnsweredQuestion `json:"answered_questions"`
	SkippedQuestions      []int              `json:"skipped_questions"`
	Reviews               map[int]ReviewCard `json:"reviews,omitempty"`
}

// TotalEvaluated is the number of answers that have been graded.
func (p QuestionProgress) TotalEvaluated() int {
	return p.CorrectCount + p.PartiallyCorrectCount + p.IncorrectCount
}

// ReviewCard is the spaced-repetition schedule for a single question.
type ReviewCard struct {
	Due           time.Time `json:"due"`
	Stability     float64   `json:"stability"`
	Difficulty    float64   `json:"difficulty"`
	ElapsedDays   int       `json:"elapsed_days"`
	ScheduledDays int       `json:"scheduled_days"`
	Reps          int       `json:"reps"`
	Lapses        int       `json:"lapses"`
	State         int       `json:"state"`
	LastReview    time.Time `json:"last_review"`
}

func (c ReviewCard) ToFSRSCard() fsrs.Card {
	return fsrs.Card{
		Due:           c.Due,
		Stability:     c.Stability,
		Difficulty:    c.Difficulty,
		ElapsedDays:   uint64(max(c.ElapsedDays, 0)),
		ScheduledDays: uint64(max(c.ScheduledDays, 0)),
		Reps:          uint64(max(c.Reps, 0)),
		Lapses:        uint64(max(c.Lapses, 0)),
		State:         fsrs.State(max(c.State, 0)),
		LastReview:    c.LastReview,
	}
}

func ReviewCardFromFSRS(f fsrs.Card) ReviewCard {
	return ReviewCard{
		Due:           f.Due,
		Stability:     f.Stability,
		Difficulty:    f.Difficulty,
		ElapsedDays:   int(f.ElapsedDays),
		ScheduledDays: int(f.ScheduledDays),
		Reps:          int(f.Reps),
		Lapses:        int(f.Lapses),
		State:         int(f.State),
		LastReview:    f.LastReview,
	}
}

type VisualizerSettings struct {
	NumBars     int     `json:"num_bars"`
	Sensitivity float64 `json:"sensitivity"`
	Color       string  `json:"color"`
}

// UIState mirrors what the browser needs to render; it is pushed over the realtime channel.
type UIState struct {
	IsAssistantSpeaking   bool               `json:"is_assistant_speaking"`
	IsMicrophoneActive    bool               `json:"is_microphone_active"`
	IsContinuousListening bool               `json:"is_continuous_listening"`
	Visualizer            VisualizerSettings `json:"visualizer_settings"`
	CurrentQuestionIndex  int                `json:"current_question_index"`
	LastInteractionTime   time.Time          `json:"last_interaction_time"`
	IsProcessingPDF       bool               `json:"is_processing_pdf"`
	PDFProcessed          bool               `json:"pdf_processed"`
	PDFFilename           string             `json:"pdf_filename,omitempty"`
	PDFError              string             `json:"pdf_error,omitempty"`
	Extra                 map[string]any     `json:"extra,omitempty"`
}

func DefaultUIState(now time.Time) UIState {
	return UIState{
		Visualizer: VisualizerSettings{
			NumBars:     20,
			Sensitivity: 1.0,
			Color:       "#3498db",
		},
		LastInteractionTime: now,
	}
}

type TTSPreferences struct {
	VoiceID         string `json:"voice_id"`
	ModelID         string `json:"model_id"`
	AutoRead        bool   `json:"auto_read"`
	ServerTTS       bool   `json:"server_tts"`
	ForceBrowserTTS bool   `json:"force_browser_tts"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// SpeechItem is a pending or active narration request.
type SpeechItem struct {
	Text        string    `json:"text"`
	VoiceID     string    `json:"voice_id"`
	ModelID     string    `json:"model_id"`
	ContextID   string    `json:"context_id"`
	Priority    Priority  `json:"priority"`
	EnqueuedAt  time.Time `json:"timestamp"`
	IsStreaming bool      `json:"is_streaming"`
}

// AuthToken authenticates a realtime connection to a session.
type AuthToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Type      string    `json:"type"`
}

type RecognitionMode string

const (
	ModeCommand      RecognitionMode = "command"
	ModeDictation    RecognitionMode = "dictation"
	ModeConversation RecognitionMode = "conversation"
)

type Transcription struct {
	Text      string          `json:"text"`
	Timestamp time.Time       `json:"timestamp"`
	Mode      RecognitionMode `json:"mode"`
}

type AudioState struct {
	IsListening          bool            `json:"is_listening"`
	IsContinuous         bool            `json:"is_continuous"`
	RecognitionMode      RecognitionMode `json:"recognition_mode"`
	RecognitionID        string          `json:"recognition_id,omitempty"`
	ChunkPaths           []string        `json:"audio_chunks"`
	LastChunkTime        time.Time       `json:"last_chunk_time"`
	SessionStartTime     time.Time       `json:"session_start_time"`
	TranscriptionHistory []Transcription `json:"transcription_history"`
}

// Session holds all per-user state.
type Session struct {
	ID             string               `json:"id"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	Messages       []Message            `json:"messages"`
	Topic          *string              `json:"current_topic"`
	Difficulty     Difficulty           `json:"topic_difficulty"`
	Questions      []string             `json:"generated_questions"`
	QuestionSource QuestionSource       `json:"question_source,omitempty"`
	Progress       QuestionProgress     `json:"question_state"`
	UI             UIState              `json:"ui_state"`
	TTSPreferences TTSPreferences       `json:"tts_preferences"`
	SpeechQueue    []SpeechItem         `json:"tts_queue"`
	ActiveSpeech   *SpeechItem          `json:"active_tts"`
	Audio          AudioState           `json:"audio_state"`
	AuthTokens     map[string]AuthToken `json:"websocket_tokens"`
}

// NewSession returns a session with empty defaults.
func NewSession(id string, now time.Time, prefs TTSPreferences) *Session {
	return &Session{
		ID:             id,
		CreatedAt:      now,
		UpdatedAt:      now,
		Messages:       []Message{},
		Difficulty:     DifficultyMixed,
		Questions:      []string{},
		UI:             DefaultUIState(now),
		TTSPreferences: prefs,
		SpeechQueue:    []SpeechItem{},
		AuthTokens:     make(map[string]AuthToken),
	}
}

// HasTopic reports whether a topic has been chosen.
func (s *Session) HasTopic() bool {
	return s.Topic != nil && *s.Topic != ""
}

// TopicName returns the current topic or "".
func (s *Session) TopicName() string {
	if s.Topic == nil {
		return ""
	}
	return *s.Topic
}

// CurrentQuestion returns the question at the progress index, if any.
func (s *Session) CurrentQuestion() (string, bool) {
	i := s.Progress.CurrentIndex
	if i < 0 || i >= len(s.Questions) {
		return "", false
	}
	return s.Questions[i], true
}

func (s *Session) AddMessage(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
}

// Clone returns a deep copy so that callers never share mutable state with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.Topic != nil {
		topic := *s.Topic
		out.Topic = &topic
	}
	out.Questions = append([]string(nil), s.Questions...)
	out.Progress = s.Progress.clone()
	out.UI = s.UI.clone()
	out.SpeechQueue = append([]SpeechItem(nil), s.SpeechQueue...)
	if s.ActiveSpeech != nil {
		active := *s.ActiveSpeech
		out.ActiveSpeech = &active
	}
	out.Audio.ChunkPaths = append([]string(nil), s.Audio.ChunkPaths...)
	out.Audio.TranscriptionHistory = append([]Transcription(nil), s.Audio.TranscriptionHistory...)
	out.AuthTokens = make(map[string]AuthToken, len(s.AuthTokens))
	for k, v := range s.AuthTokens {
		out.AuthTokens[k] = v
	}
	return &out
}

// CopyDialogue overwrites the fields a chat turn owns with those of from.
// Speech, audio, tokens and the rest of the UI state are left alone so a
// slow turn does not undo queue changes made while it ran.
func (s *Session) CopyDialogue(from *Session) {
	d := from.Clone()
	s.Messages = d.Messages
	s.Topic = d.Topic
	s.Difficulty = d.Difficulty
	s.Questions = d.Questions
	s.QuestionSource = d.QuestionSource
	s.Progress = d.Progress
	s.UI.CurrentQuestionIndex = d.UI.CurrentQuestionIndex
	s.UI.LastInteractionTime = d.UI.LastInteractionTime
	if d.UpdatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = d.UpdatedAt
	}
}

func (p QuestionProgress) clone() QuestionProgress {
	out := p
	out.History = append([]HistoryEntry(nil), p.History...)
	out.AnsweredQuestions = append([]AnsweredQuestion(nil), p.AnsweredQuestions...)
	out.SkippedQuestions = append([]int(nil), p.SkippedQuestions...)
	if p.Reviews != nil {
		out.Reviews = make(map[int]ReviewCard, len(p.Reviews))
		for k, v := range p.Reviews {
			out.Reviews[k] = v
		}
	}
	return out
}

func (u UIState) clone() UIState {
	out := u
	if u.Extra != nil {
		out.Extra = make(map[string]any, len(u.Extra))
		for k, v := range u.Extra {
			out.Extra[k] = v
		}
	}
	return out
}
