package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recall-ai/internal/llm"
	"recall-ai/internal/models"
	"recall-ai/internal/realtime"
	"recall-ai/internal/services"
	"recall-ai/internal/speech"
	"recall-ai/internal/store"
)

const photosynthesisSet = `1. What is the primary pigment in photosynthesis?
2. How does the Calvin cycle fix carbon dioxide?
3. Why do plants need sunlight to make glucose?`

type stubSynth struct{}

func (stubSynth) ContentType() string { return "audio/mpeg" }

func (stubSynth) Synthesize(_ context.Context, text, voiceID, _ string) ([]byte, error) {
	return []byte(voiceID + ":" + text), nil
}

func (stubSynth) OpenContext(_ context.Context, _, _, contextID string) (speech.StreamContext, error) {
	return &stubStream{id: contextID, chunks: make(chan speech.Chunk, 16)}, nil
}

func (stubSynth) Cancel(context.Context, string) error { return nil }

type stubStream struct {
	id     string
	chunks chan speech.Chunk
	closed bool
}

func (s *stubStream) ID() string                  { return s.id }
func (s *stubStream) Chunks() <-chan speech.Chunk { return s.chunks }
func (s *stubStream) Close() error {
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}
func (s *stubStream) Send(_ context.Context, text string, final bool) error {
	s.chunks <- speech.Chunk{Data: []byte("<" + text + ">")}
	if final {
		return s.Close()
	}
	return nil
}

type stubTranscriber struct {
	text string
}

func (t stubTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) (string, error) {
	_, _ = io.Copy(io.Discard, audio)
	return t.text, nil
}

type testServer struct {
	handler  http.Handler
	mock     *llm.MockProvider
	sessions *store.Sessions
	hub      *realtime.Hub
}

func newTestServer(t *testing.T, synth speech.Synthesizer, responses ...llm.MockResponse) *testServer {
	t.Helper()
	mock := llm.NewMockProvider(responses...)
	sessions := store.NewSessions(store.NewMemoryStore(), models.TTSPreferences{VoiceID: "voice-1", ModelID: "sonic"})
	hub := realtime.NewHub()

	ai := services.NewAIService(mock)
	docs := services.NewDocumentService(t.TempDir())
	srv := NewServer(Deps{
		Sessions:  sessions,
		Dialogue:  services.NewDialogueService(ai, services.NewProgressTracker(services.NewReviewScheduler())),
		Ingestion: services.NewIngestionService(docs, services.NewPDFService(), ai),
		Audio:     services.NewAudioService(stubTranscriber{text: "the chloroplast"}, docs),
		Speech:    speech.NewEngine(sessions, synth, hub, speech.Options{StreamThreshold: 40}),
		Hub:       hub,
	}, Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxUploadBytes: 1 << 20,
		TokenTTL:       time.Minute,
		DefaultTTS:     models.TTSPreferences{VoiceID: "default-voice"},
	})
	return &testServer{handler: srv.Handler(), mock: mock, sessions: sessions, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, path, field, filename string, data []byte, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// openSession creates a session through the API and returns its cookie.
func (ts *testServer) openSession(t *testing.T) *http.Cookie {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/session", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func (ts *testServer) startTopic(t *testing.T, cookie *http.Cookie) {
	t.Helper()
	ts.mock.AddResponse(llm.MockResponse{Text: photosynthesisSet})
	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "I want to review photosynthesis"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestSessionCookieIsIssuedOnce(t *testing.T) {
	ts := newTestServer(t, nil)

	cookie := ts.openSession(t)
	assert.True(t, cookie.HttpOnly)
	assert.NotEmpty(t, cookie.Value)

	rec := ts.do(t, http.MethodGet, "/api/session", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	body := decodeBody(t, rec)
	assert.Equal(t, cookie.Value, body["session_id"])
	assert.Equal(t, false, body["has_topic"])
}

func TestStaleCookieGetsFreshSession(t *testing.T) {
	ts := newTestServer(t, nil)
	stale := &http.Cookie{Name: sessionCookie, Value: "chosen-by-client"}

	rec := ts.do(t, http.MethodGet, "/api/session", nil, stale)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.NotEqual(t, stale.Value, cookies[0].Value)
	assert.Equal(t, cookies[0].Value, decodeBody(t, rec)["session_id"])

	_, err := ts.sessions.Get(context.Background(), stale.Value)
	assert.ErrorIs(t, err, store.ErrInvalidSession)
	_, err = ts.sessions.Get(context.Background(), cookies[0].Value)
	assert.NoError(t, err)
}

func TestRoutesRequireExistingSession(t *testing.T) {
	ts := newTestServer(t, nil)
	unknown := &http.Cookie{Name: sessionCookie, Value: "does-not-exist"}

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/questions/state"},
		{http.MethodGet, "/api/ui-state"},
		{http.MethodGet, "/api/tts/queue"},
		{http.MethodGet, "/api/tts/preferences"},
		{http.MethodPost, "/api/audio/stop"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			for _, c := range []*http.Cookie{nil, unknown} {
				rec := ts.do(t, p.method, p.path, nil, c)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				body := decodeBody(t, rec)
				assert.Equal(t, "Invalid session", body["error"])
				assert.Equal(t, false, body["success"])
			}
		})
	}
}

func TestChatStartsTopicAndPublishes(t *testing.T) {
	ts := newTestServer(t, nil, llm.MockResponse{Text: photosynthesisSet})
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "I want to review photosynthesis"}, cookie)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["has_topic"])
	assert.Len(t, body["questions"], 3)
	assert.Contains(t, body["response"], "photosynthesis")

	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "photosynthesis", sess.TopicName())
	assert.Len(t, sess.Messages, 2)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "   "}, cookie)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid session or empty message", decodeBody(t, rec)["error"])
	assert.Equal(t, 0, ts.mock.CallCount())
}

func TestChatStoresTrimmedMessage(t *testing.T) {
	ts := newTestServer(t, nil, llm.MockResponse{Text: photosynthesisSet})
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "  I want to review photosynthesis \n"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	require.NotEmpty(t, sess.Messages)
	assert.Equal(t, "I want to review photosynthesis", sess.Messages[0].Content)
}

func TestChatKeepsSpeechQueuedDuringGeneration(t *testing.T) {
	ts := newTestServer(t, stubSynth{}, llm.MockResponse{Text: photosynthesisSet})
	cookie := ts.openSession(t)

	ts.mock.OnGenerate = func(llm.Request) {
		rec := ts.do(t, http.MethodPost, "/api/tts/queue", map[string]string{"text": "earlier reply"}, cookie)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "I want to review photosynthesis"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "photosynthesis", sess.TopicName())
	require.Len(t, sess.SpeechQueue, 1)
	assert.Equal(t, "earlier reply", sess.SpeechQueue[0].Text)
}

func TestQuestionStateNavigation(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "next"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No questions available", decodeBody(t, rec)["error"])

	ts.startTopic(t, cookie)

	rec = ts.do(t, http.MethodGet, "/api/questions/state", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["total_questions"])
	assert.Equal(t, "What is the primary pigment in photosynthesis?", body["current_question"])

	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "previous"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(2), body["index"])
	assert.Equal(t, "Why do plants need sunlight to make glucose?", body["question"])

	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "next"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["completed"])
	assert.Equal(t, float64(0), body["index"])
	assert.NotEmpty(t, body["summary"])
}

func TestQuestionStateEvaluateAndUpdate(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)
	ts.startTopic(t, cookie)

	rec := ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "evaluate"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.mock.AddResponse(llm.MockResponse{Text: "Correct! Chlorophyll absorbs the light."})
	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "evaluate", "answer": "chlorophyll"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, string(models.EvaluationCorrect), body["evaluation"])
	assert.Equal(t, float64(1), body["mastery_level"])

	// The mock has nothing left to return.
	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "evaluate", "answer": "chlorophyll"}, cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]any{"action": "update", "current_index": 7}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]any{"action": "update", "current_index": 1}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Progress.CurrentIndex)
	assert.Equal(t, 1, sess.UI.CurrentQuestionIndex)

	rec = ts.do(t, http.MethodPost, "/api/questions/state", map[string]string{"action": "shuffle"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unknown action: shuffle", decodeBody(t, rec)["error"])
}

func TestUIStateMerge(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/ui-state", map[string]any{"is_assistant_speaking": true}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ui := decodeBody(t, rec)["ui_state"].(map[string]any)
	assert.Equal(t, true, ui["is_assistant_speaking"])

	rec = ts.do(t, http.MethodPost, "/api/ui-state", map[string]any{}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWSTokenAuthenticates(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodGet, "/api/ws-token", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	token, _ := body["token"].(string)
	assert.True(t, strings.HasPrefix(token, "ws_token_"+cookie.Value+"_"))
	assert.Equal(t, cookie.Value, body["session_id"])

	sess, err := realtime.Authenticate(context.Background(), ts.sessions, cookie.Value, token, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, cookie.Value, sess.ID)
}

func TestTTSWithoutSynthesizer(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/tts", map[string]string{"text": "hello"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/tts", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No text provided", decodeBody(t, rec)["error"])
}

func TestTTSBufferedUsesPreferences(t *testing.T) {
	ts := newTestServer(t, stubSynth{})

	rec := ts.do(t, http.MethodPost, "/api/tts", map[string]string{"text": "Hello."}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "default-voice:Hello.", rec.Body.String())

	cookie := ts.openSession(t)
	rec = ts.do(t, http.MethodPost, "/api/tts", map[string]string{"text": "Hello."}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "voice-1:Hello.", rec.Body.String())
}

func TestTTSStreamIsMultipart(t *testing.T) {
	ts := newTestServer(t, stubSynth{})

	rec := ts.do(t, http.MethodPost, "/api/tts/stream", map[string]string{"text": "One. Two."}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", rec.Header().Get("Content-Type"))
	out := rec.Body.String()
	assert.Contains(t, out, "--frame\r\nContent-Type: audio/mpeg\r\n\r\n<One.>\r\n")
	assert.Contains(t, out, "<Two.>")
	assert.True(t, strings.HasSuffix(out, "--frame--\r\n"))
}

func TestTTSQueueLifecycle(t *testing.T) {
	ts := newTestServer(t, stubSynth{})
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/tts/process-queue", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["queue_empty"])

	rec = ts.do(t, http.MethodPost, "/api/tts/queue", map[string]string{"text": "later", "priority": "low"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/tts/queue", map[string]string{"text": "now", "priority": "high"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Added to TTS queue", body["message"])
	assert.Equal(t, float64(0), body["queue_position"])
	assert.Equal(t, float64(2), body["queue_length"])

	rec = ts.do(t, http.MethodPost, "/api/tts/queue", map[string]string{"text": "x", "priority": "urgent"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/tts/process-queue", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "voice-1:now", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/tts/queue", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(1), body["queue_length"])
	assert.Equal(t, true, body["is_playing"])

	rec = ts.do(t, http.MethodDelete, "/api/tts/queue", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TTS queue cleared", decodeBody(t, rec)["message"])

	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Empty(t, sess.SpeechQueue)
	assert.Nil(t, sess.ActiveSpeech)
}

func TestTTSPreferencesPartialUpdate(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/tts/preferences", map[string]any{"auto_read": true}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tts/preferences", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decodeBody(t, rec)["preferences"].(map[string]any)
	assert.Equal(t, true, prefs["auto_read"])
	assert.Equal(t, "voice-1", prefs["voice_id"])
}

func TestTTSCancelRequiresContext(t *testing.T) {
	ts := newTestServer(t, stubSynth{})

	rec := ts.do(t, http.MethodPost, "/api/tts/cancel", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/tts/cancel", map[string]string{"context_id": "ctx-1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TTS generation with context ID ctx-1 cancelled", decodeBody(t, rec)["message"])
}

func TestAudioCaptureFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.upload(t, "/api/audio/chunk", "audio_chunk", "chunk.webm", []byte("abc"), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No active speech recognition session", decodeBody(t, rec)["error"])

	rec = ts.do(t, http.MethodPost, "/api/audio/start", map[string]any{"mode": "singing"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/audio/start", map[string]any{"mode": "command"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(decodeBody(t, rec)["recognition_id"].(string), "rec_"))

	rec = ts.upload(t, "/api/audio/chunk", "audio_chunk", "chunk.webm", []byte("abc"), cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "the chloroplast", body["text"])
	assert.Equal(t, true, body["is_final"])

	rec = ts.do(t, http.MethodPost, "/api/audio/stop", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Stopped speech recognition", decodeBody(t, rec)["message"])

	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.False(t, sess.Audio.IsListening)
	assert.False(t, sess.UI.IsMicrophoneActive)
	require.Len(t, sess.Audio.TranscriptionHistory, 1)
}

func TestTranscribeUpload(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.upload(t, "/api/transcribe", "audio_file", "clip.webm", []byte("abc"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "the chloroplast", decodeBody(t, rec)["text"])

	rec = ts.upload(t, "/api/transcribe", "wrong_field", "clip.webm", []byte("abc"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadPDFValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.upload(t, "/api/upload-pdf", "pdf_file", "notes.txt", []byte("hello"), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid file type. Only PDF files are allowed.", decodeBody(t, rec)["error"])

	rec = ts.upload(t, "/api/upload-pdf", "other", "notes.pdf", []byte("hello"), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file part", decodeBody(t, rec)["error"])

	big := bytes.Repeat([]byte("x"), (1<<20)+10)
	rec = ts.upload(t, "/api/upload-pdf", "pdf_file", "notes.pdf", big, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "File size exceeds limit")
}

func TestPDFJobFailureIsReported(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.upload(t, "/api/upload-pdf/jobs", "pdf_file", "notes.pdf", []byte("not really a pdf"), cookie)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID, _ := decodeBody(t, rec)["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/upload-pdf/jobs/"+jobID, nil, cookie)
		if rec.Code != http.StatusOK {
			return false
		}
		job := decodeBody(t, rec)["job"].(map[string]any)
		return job["status"] == JobStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := ts.sessions.Get(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.False(t, sess.UI.IsProcessingPDF)
	assert.NotEmpty(t, sess.UI.PDFError)

	other := ts.openSession(t)
	rec = ts.do(t, http.MethodGet, "/api/upload-pdf/jobs/"+jobID, nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadURLWithoutBucket(t *testing.T) {
	ts := newTestServer(t, nil)
	cookie := ts.openSession(t)

	rec := ts.do(t, http.MethodPost, "/api/upload-url", map[string]string{"filename": "notes.pdf"}, cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestJobManagerProgress(t *testing.T) {
	m := NewJobManager()
	job := m.CreateJob("s1", "notes.pdf")

	m.UpdateProgress(job.ID, "extract", "Extracting text", 1, 4)
	got, ok := m.GetJob(job.ID, "s1")
	require.True(t, ok)
	assert.Equal(t, JobStatusProcessing, got.Status)
	assert.Equal(t, 25, got.Percent)

	m.MarkCompleted(job.ID, PDFResult{Topic: "notes", Questions: []string{"q1"}})
	got, _ = m.GetJob(job.ID, "s1")
	assert.Equal(t, JobStatusComplete, got.Status)
	assert.Equal(t, 100, got.Percent)
	got.Result.Questions[0] = "mutated"

	again, _ := m.GetJob(job.ID, "s1")
	assert.Equal(t, "q1", again.Result.Questions[0])

	_, ok = m.GetJob(job.ID, "s2")
	assert.False(t, ok)
}
