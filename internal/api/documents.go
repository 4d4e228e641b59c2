package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"recall-ai/internal/models"
	"recall-ai/internal/services"
	"recall-ai/internal/uploads"
)

// readPDF pulls the pdf_file part out of a multipart upload, enforcing the
// size limit.
func (s *Server) readPDF(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusBadRequest, s.sizeLimitMessage())
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, "No file part")
		return "", nil, false
	}
	file, header, err := r.FormFile("pdf_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return "", nil, false
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return "", nil, false
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".pdf") {
		writeError(w, http.StatusBadRequest, "Invalid file type. Only PDF files are allowed.")
		return "", nil, false
	}
	if header.Size > s.opts.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, s.sizeLimitMessage())
		return "", nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.opts.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return "", nil, false
	}
	if int64(len(data)) > s.opts.MaxUploadBytes {
		writeError(w, http.StatusBadRequest, s.sizeLimitMessage())
		return "", nil, false
	}
	return header.Filename, data, true
}

func (s *Server) sizeLimitMessage() string {
	return fmt.Sprintf("File size exceeds limit of %gMB", float64(s.opts.MaxUploadBytes)/(1<<20))
}

func (s *Server) handleUploadPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	filename, data, ok := s.readPDF(w, r)
	if !ok {
		return
	}
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	s.markProcessingPDF(r.Context(), sess.ID, filename)

	doc, err := s.ingestion.ProcessPDF(r.Context(), filename, data)
	if err != nil {
		status, msg := ingestionError(err)
		log.Printf("process pdf %s for %s: %v", filename, sess.ID, err)
		s.recordPDFError(r.Context(), sess.ID, msg)
		writeError(w, status, msg)
		return
	}

	updated, err := s.installPDF(r.Context(), sess.ID, doc)
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.publishSession(updated)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Successfully processed %s and generated %d questions", doc.Filename, len(doc.Questions)),
		"questions": doc.Questions,
		"topic":     doc.Topic,
	})
}

// handleCreatePDFJob accepts the same upload as handleUploadPDF but returns
// immediately; the client polls the job for progress.
func (s *Server) handleCreatePDFJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	filename, data, ok := s.readPDF(w, r)
	if !ok {
		return
	}
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	s.markProcessingPDF(r.Context(), sess.ID, filename)

	job := s.jobs.CreateJob(sess.ID, services.SafeFilename(filename))
	go s.runPDFJob(context.Background(), job.ID, sess.ID, filename, data)

	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "job": job, "success": true})
}

func (s *Server) handlePDFJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	jobID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/upload-pdf/jobs/"), "/")
	if jobID == "" {
		http.NotFound(w, r)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	job, found := s.jobs.GetJob(jobID, id)
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "success": true})
}

func (s *Server) runPDFJob(ctx context.Context, jobID, sessionID, filename string, data []byte) {
	progress := func(step, message string, current, total int) {
		s.jobs.UpdateProgress(jobID, step, message, current, total)
	}
	doc, err := s.ingestion.ProcessPDFWithProgress(ctx, filename, data, progress)
	if err != nil {
		_, msg := ingestionError(err)
		log.Printf("pdf job %s: %v", jobID, err)
		s.recordPDFError(ctx, sessionID, msg)
		s.jobs.MarkFailed(jobID, msg)
		return
	}
	updated, err := s.installPDF(ctx, sessionID, doc)
	if err != nil {
		log.Printf("pdf job %s: install questions: %v", jobID, err)
		s.jobs.MarkFailed(jobID, "could not save questions to session")
		return
	}
	s.publishSession(updated)
	s.jobs.MarkCompleted(jobID, PDFResult{Topic: doc.Topic, Filename: doc.Filename, Questions: doc.Questions})
}

func (s *Server) installPDF(ctx context.Context, sessionID string, doc *services.DocumentQuestions) (*models.Session, error) {
	return s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		services.InstallDocumentQuestions(sess, doc, s.sessions.Now())
		return nil
	})
}

func (s *Server) markProcessingPDF(ctx context.Context, sessionID, filename string) {
	updated, err := s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.UI.IsProcessingPDF = true
		sess.UI.PDFProcessed = false
		sess.UI.PDFFilename = services.SafeFilename(filename)
		sess.UI.PDFError = ""
		return nil
	})
	if err != nil {
		log.Printf("mark pdf processing for %s: %v", sessionID, err)
		return
	}
	s.publishUI(updated)
}

func (s *Server) recordPDFError(ctx context.Context, sessionID, msg string) {
	updated, err := s.sessions.Update(ctx, sessionID, func(sess *models.Session) error {
		sess.UI.IsProcessingPDF = false
		sess.UI.PDFError = msg
		return nil
	})
	if err != nil {
		log.Printf("record pdf error for %s: %v", sessionID, err)
		return
	}
	s.publishUI(updated)
}

func ingestionError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrAIUnavailable):
		return http.StatusServiceUnavailable, "There was an issue connecting to the AI service. Please try again later."
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid file type. Only PDF files are allowed."
	case errors.Is(err, services.ErrNoPDFText):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, services.ErrNoDocumentQuestions):
		return http.StatusInternalServerError, "No questions could be generated"
	default:
		return http.StatusInternalServerError, fmt.Sprintf("Error processing PDF: %v", err)
	}
}

type uploadURLRequest struct {
	Filename string `json:"filename"`
}

// handleUploadURL hands out a presigned PUT URL so large PDFs can go straight
// to object storage.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var payload uploadURLRequest
	if err := decodeJSON(r, &payload); err != nil || payload.Filename == "" {
		writeError(w, http.StatusBadRequest, "No filename provided")
		return
	}

	up, err := s.presigner.PresignPDF(r.Context(), id, payload.Filename)
	switch {
	case errors.Is(err, uploads.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		log.Printf("presign upload for %s: %v", id, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload": up, "success": true})
}
