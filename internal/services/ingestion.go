package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"recall-ai/internal/models"
)

// ErrNoDocumentQuestions means the model returned nothing usable for a document.
var ErrNoDocumentQuestions = errors.New("no questions could be generated from this PDF")

// ProgressCallback is called during document processing to report progress.
type ProgressCallback func(step, message string, current, total int)

// DocumentQuestions is the outcome of processing an uploaded PDF.
type DocumentQuestions struct {
	Topic     string
	Filename  string
	Questions []string
	Stored    *StoredFile
}

// IngestionService coordinates upload storage, PDF text extraction and
// question generation.
type IngestionService struct {
	documents *DocumentService
	pdf       *PDFService
	ai        *AIService
}

func NewIngestionService(documents *DocumentService, pdf *PDFService, ai *AIService) *IngestionService {
	return &IngestionService{documents: documents, pdf: pdf, ai: ai}
}

func (s *IngestionService) ProcessPDF(ctx context.Context, filename string, data []byte) (*DocumentQuestions, error) {
	return s.ProcessPDFWithProgress(ctx, filename, data, nil)
}

// ProcessPDFWithProgress stores the upload, extracts its text and asks the
// model for questions grounded in that text.
func (s *IngestionService) ProcessPDFWithProgress(ctx context.Context, filename string, data []byte, progress ProgressCallback) (*DocumentQuestions, error) {
	if !s.ai.Available() {
		return nil, ErrAIUnavailable
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") || !LooksLikePDF(data) {
		return nil, fmt.Errorf("%w: only PDF files are allowed", ErrInvalidInput)
	}

	report := func(step, msg string, pct int) {
		if progress != nil {
			progress(step, msg, pct, 100)
		}
	}

	report("store", "Saving upload", 0)
	stored, err := s.documents.Save("pdf", filename, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	report("extract", "Extracting text", 20)
	text, err := s.pdf.ExtractText(data)
	if err != nil {
		return nil, err
	}

	report("generate", "Generating questions", 50)
	questions, err := s.ai.QuestionsFromDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 || IsParseFailure(questions) {
		return nil, ErrNoDocumentQuestions
	}

	report("done", fmt.Sprintf("Generated %d questions", len(questions)), 100)
	safe := SafeFilename(filename)
	return &DocumentQuestions{
		Topic:     "PDF: " + strings.TrimSuffix(safe, filepath.Ext(safe)),
		Filename:  safe,
		Questions: questions,
		Stored:    stored,
	}, nil
}

// InstallDocumentQuestions makes a processed PDF the session's active topic.
func InstallDocumentQuestions(sess *models.Session, doc *DocumentQuestions, now time.Time) {
	topic := doc.Topic
	sess.Topic = &topic
	sess.Questions = doc.Questions
	sess.QuestionSource = models.SourcePDF
	sess.Progress = ResetProgress(now, doc.Questions)
	sess.UI.IsProcessingPDF = false
	sess.UI.PDFProcessed = true
	sess.UI.PDFFilename = doc.Filename
	sess.UI.PDFError = ""
	sess.UI.CurrentQuestionIndex = 0
	sess.UI.LastInteractionTime = now
	sess.AddMessage(models.RoleAssistant, fmt.Sprintf(
		"I've analyzed your PDF and generated %d questions for active recall practice. Let's begin with the first question.",
		len(doc.Questions)))
	sess.UpdatedAt = now
}
