package services

import (
	"context"
	"fmt"
	"strings"

	"recall-ai/internal/llm"
	"recall-ai/internal/models"
)

const (
	questionMaxTokens = 1500
	hintMaxTokens     = 150
	feedbackMaxTokens = 250
	documentMaxChars  = 4000

	questionSystemPrompt = "You are an expert educator specializing in creating effective active recall questions."
	hintSystemPrompt     = "You are a helpful educational assistant providing hints."
	feedbackSystemPrompt = "You are a helpful educational assistant evaluating answers."
)

// AIService wraps the generation collaborator: question sets, hints and
// answer feedback. A nil provider leaves it disabled and every call returns
// ErrAIUnavailable.
type AIService struct {
	provider llm.Provider
}

func NewAIService(provider llm.Provider) *AIService {
	return &AIService{provider: provider}
}

func (s *AIService) disabled() bool {
	return s == nil || s.provider == nil
}

// Available reports whether a provider is configured.
func (s *AIService) Available() bool {
	return !s.disabled()
}

// GenerateQuestions asks the model for a question set on topic and parses the
// reply. A reply that cannot be parsed comes back as the QuestionParseFailure
// list with a nil error; err is set only when the call itself failed.
func (s *AIService) GenerateQuestions(ctx context.Context, topic string, difficulty models.Difficulty) ([]string, error) {
	if s.disabled() {
		return nil, ErrAIUnavailable
	}
	prompt := BuildQuestionPrompt(topic, difficulty)
	text, err := s.complete(ctx, llm.Prompt(questionSystemPrompt, prompt, questionMaxTokens, 0.7))
	if err != nil {
		return nil, fmt.Errorf("generate questions for %q: %w", topic, err)
	}
	return ParseQuestions(text), nil
}

// QuestionsFromDocument generates questions grounded only in extracted document text.
func (s *AIService) QuestionsFromDocument(ctx context.Context, text string) ([]string, error) {
	if s.disabled() {
		return nil, ErrAIUnavailable
	}
	if len([]rune(text)) > documentMaxChars {
		text = string([]rune(text)[:documentMaxChars])
	}
	prompt := fmt.Sprintf(`
Analyze the following text extracted from a document. Based *only* on this text, generate a concise list of 3-5 important questions that would help someone actively recall the key information presented. Frame the questions clearly and directly related to the text content. Ensure the questions cover different aspects or key points of the provided text.

Text:
---
%s
---

Output *only* the questions, each on a new line. Do not include bullet points, introductory phrases, or concluding remarks. Just the questions themselves.
`, text)
	out, err := s.complete(ctx, llm.Prompt("", prompt, questionMaxTokens, 0.3))
	if err != nil {
		return nil, fmt.Errorf("generate document questions: %w", err)
	}
	return ParseQuestions(out), nil
}

// Hint produces a nudge toward the answer of question without revealing it.
func (s *AIService) Hint(ctx context.Context, question, topic string, difficulty models.Difficulty) (string, error) {
	if s.disabled() {
		return "", ErrAIUnavailable
	}
	prompt := fmt.Sprintf(`
The student is asking for a hint on this question: "%s"
The topic is "%s" and the difficulty level is "%s".

Provide a helpful hint that guides them toward the answer without giving it away completely.
For basic questions, the hint can be more direct.
For intermediate questions, provide some guidance but let them make connections.
For advanced questions, give minimal hints that prompt critical thinking.

Write a brief, helpful hint:
`, question, topic, difficulty)
	out, err := s.complete(ctx, llm.Prompt(hintSystemPrompt, prompt, hintMaxTokens, 0.7))
	if err != nil {
		return "", fmt.Errorf("generate hint: %w", err)
	}
	return out, nil
}

// Feedback asks the model to judge answer against question. The verdict is
// embedded in free text; see ClassifyFeedback.
func (s *AIService) Feedback(ctx context.Context, question, answer, topic string, difficulty models.Difficulty) (string, error) {
	if s.disabled() {
		return "", ErrAIUnavailable
	}
	prompt := fmt.Sprintf(`
Question: "%s"
Student's answer: "%s"
Topic: "%s"
Difficulty: "%s"

Evaluate the answer and provide constructive feedback:
1. Is the answer correct, partially correct, or incorrect?
2. What aspects of the answer are good or need improvement?
3. What key concepts should be emphasized?

For basic questions, focus on accuracy of fundamental facts.
For intermediate questions, assess application of concepts.
For advanced questions, evaluate depth of understanding and critical thinking.

Provide a brief, helpful feedback response:
`, question, answer, topic, difficulty)
	out, err := s.complete(ctx, llm.Prompt(feedbackSystemPrompt, prompt, feedbackMaxTokens, 0.7))
	if err != nil {
		return "", fmt.Errorf("generate feedback: %w", err)
	}
	return out, nil
}

func (s *AIService) complete(ctx context.Context, req llm.Request) (string, error) {
	resp, err := s.provider.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", &llm.ErrInvalidResponse{Err: fmt.Errorf("empty completion")}
	}
	return text, nil
}

var difficultyGuidance = map[models.Difficulty]string{
	models.DifficultyBasic: `
Focus on foundational concepts and definitions.
These questions should help beginners establish a basic understanding of the topic.
Use straightforward language and clear, unambiguous questions.
`,
	models.DifficultyIntermediate: `
Target intermediate understanding with questions that explore relationships between concepts.
Include questions that require application of knowledge, not just recall.
Incorporate some technical terminology appropriate for someone with some background.
`,
	models.DifficultyAdvanced: `
Create challenging questions that require deep understanding and critical thinking.
Include questions on complex applications, edge cases, and advanced theories.
Use precise technical terminology and expect sophisticated understanding.
`,
	models.DifficultyMixed: `
Provide a balanced mix of basic, intermediate, and advanced questions.
Label each question with its difficulty level (Basic, Intermediate, Advanced).
Progress from simpler to more complex concepts to build understanding.
`,
}

var subjectGuidance = map[SubjectCategory]string{
	SubjectMath: `
Include some questions requiring step-by-step problem-solving.
Focus on conceptual understanding alongside procedural knowledge.
For formulas, ask about their applications and meanings, not just memorization.
`,
	SubjectScience: `
Include questions about experiments, evidence, and scientific models.
Ask about cause-effect relationships and applications of scientific principles.
Balance theoretical questions with practical applications.
`,
	SubjectHistory: `
Include questions about chronology, cause-effect relationships, and historical significance.
Ask about different perspectives and interpretations of historical events.
Balance factual recall with questions about historical processes and themes.
`,
	SubjectLanguage: `
Include questions about grammar rules, vocabulary application, and language constructs.
Ask about practical usage and exceptions to rules.
Include contextual examples to test understanding.
`,
	SubjectArts: `
Include questions about techniques, historical context, and interpretative aspects.
Balance factual knowledge with questions about aesthetic principles.
Ask about influential works and their significance.
`,
	SubjectTechnology: `
Include questions about principles, implementations, and practical applications.
Ask about evolution of technologies and their impact.
Balance theoretical understanding with practical usage scenarios.
`,
	SubjectGeneral: `
Cover key concepts, applications, and relationships within the topic.
Include questions that test both recall and understanding.
Balance breadth and depth of the topic.
`,
}

// BuildQuestionPrompt combines difficulty and subject guidance into the
// question-generation prompt. The model is asked for a numbered list, which
// ParseQuestions reads first.
func BuildQuestionPrompt(topic string, difficulty models.Difficulty) string {
	dg, ok := difficultyGuidance[difficulty]
	if !ok {
		difficulty = models.DifficultyMixed
		dg = difficultyGuidance[difficulty]
	}
	sg := subjectGuidance[ClassifyTopic(topic)]

	var b strings.Builder
	fmt.Fprintf(&b, "Generate 5-8 active recall questions about %q.\n\n", topic)
	fmt.Fprintf(&b, "Difficulty level: %s\n%s\n", strings.ToUpper(string(difficulty[:1]))+string(difficulty[1:]), dg)
	fmt.Fprintf(&b, "Topic-specific guidance:\n%s\n", sg)
	b.WriteString(`Format guidelines:
1. Each question should be self-contained and clear.
2. Avoid overly complex or compound questions.
3. Ensure questions are directly related to the topic.
4. Number each question ("1.", "2.", ...) and put each on its own line.
5. If using "mixed" difficulty, label each question with its level: [Basic], [Intermediate], or [Advanced].

Examples of well-formed questions:
1. What is the primary function of mitochondria in a cell?
2. How does Newton's Third Law apply to rocket propulsion?
3. What factors contributed to the fall of the Roman Empire?

Return ONLY the questions themselves, without explanations or additional text.
`)
	return b.String()
}
