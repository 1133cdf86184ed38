package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"studycoach-ai/internal/adaptive"
	"studycoach-ai/internal/contextutil"
	"studycoach-ai/internal/llm"
	"studycoach-ai/internal/profile"
	"studycoach-ai/internal/retrieval"
)

const (
	defaultQuizSize = 5
	maxQuizSize     = 20
)

const quizSystemPrompt = "You are a study coach that writes quiz questions strictly from the provided study material. " +
	"Respond with a JSON array only, no prose. Each element: " +
	`{"question": string, "options": [string, string, string, string], "answer": string, "concept": string}. ` +
	"The answer must be one of the options and must be verifiable from the material."

// QuizQuestion is one generated question at a planned difficulty band.
type QuizQuestion struct {
	Question string        `json:"question"`
	Options  []string      `json:"options,omitempty"`
	Answer   string        `json:"answer"`
	Concept  string        `json:"concept,omitempty"`
	Band     adaptive.Band `json:"band"`
}

// GenerateRequest asks for a quiz on a knowledge base for one learner.
type GenerateRequest struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"` // concept-space scope, usually the kb name
	KBID   int    `json:"kb_id"`
	Count  int    `json:"count,omitempty"`
	Topic  string `json:"topic,omitempty"` // seeds retrieval; scope is used when empty
}

// GenerateResponse is the generated quiz with the plan that shaped it.
type GenerateResponse struct {
	QuizID    string               `json:"quiz_id"`
	Plan      adaptive.Plan        `json:"plan"`
	Questions []QuizQuestion       `json:"questions"`
	Evidence  []retrieval.Evidence `json:"evidence"`
}

// SubmissionItem is one answered question. When Expected is set the service
// grades by answer matching; otherwise the Correct flag is trusted as graded
// upstream.
type SubmissionItem struct {
	Concept  string        `json:"concept,omitempty"`
	Band     adaptive.Band `json:"band"`
	Expected string        `json:"expected,omitempty"`
	Given    string        `json:"given,omitempty"`
	Correct  bool          `json:"correct,omitempty"`
}

// SubmitRequest grades a finished quiz for one learner.
type SubmitRequest struct {
	UserID string           `json:"user_id"`
	Scope  string           `json:"scope"`
	Items  []SubmissionItem `json:"items"`
}

// SubmitResponse reports the graded batch, the updated profile and a preview
// of the next plan. The preview does not consume the recalibration state;
// the next generate call does.
type SubmitResponse struct {
	Correct  int           `json:"correct"`
	Total    int           `json:"total"`
	Profile  ProfileView   `json:"profile"`
	NextPlan adaptive.Plan `json:"next_plan"`
}

// ProfileView is the wire form of a learner profile.
type ProfileView struct {
	UserID         string             `json:"user_id"`
	Scope          string             `json:"scope"`
	Theta          float64            `json:"theta"`
	Frustration    float64            `json:"frustration"`
	RecentAccuracy float64            `json:"recent_accuracy"`
	Mastery        map[string]float64 `json:"mastery"`
	Attempts       int                `json:"attempts"`
	Correct        int                `json:"correct"`
	State          string             `json:"state"`
}

// NewProfileView converts a profile into its wire form.
func NewProfileView(p *profile.Profile) ProfileView {
	return ProfileView{
		UserID:         p.UserID,
		Scope:          p.Scope,
		Theta:          p.Theta,
		Frustration:    p.Frustration,
		RecentAccuracy: p.RecentAccuracy,
		Mastery:        p.Mastery,
		Attempts:       p.Attempts,
		Correct:        p.Correct,
		State:          string(p.State),
	}
}

// QuizService generates difficulty-planned quizzes and folds graded results
// back into the learner profile.
type QuizService struct {
	retriever EvidenceRetriever
	profiles  *profile.Store
	engine    *adaptive.Engine
	chat      ChatClient
	topK      int
	fetchK    int
}

// NewQuizService creates a QuizService.
func NewQuizService(retriever EvidenceRetriever, profiles *profile.Store, engine *adaptive.Engine, chat ChatClient, topK, fetchK int) *QuizService {
	return &QuizService{
		retriever: retriever,
		profiles:  profiles,
		engine:    engine,
		chat:      chat,
		topK:      topK,
		fetchK:    fetchK,
	}
}

// Generate builds the difficulty plan from the learner profile, retrieves
// evidence and asks the LLM for grounded questions. Serving the plan applies
// its recalibration transition to the profile.
func (s *QuizService) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.UserID == "" || req.Scope == "" {
		return nil, fmt.Errorf("%w: user_id and scope are required", retrieval.ErrInvalidParameter)
	}
	count := req.Count
	if count <= 0 {
		count = defaultQuizSize
	}
	if count > maxQuizSize {
		count = maxQuizSize
	}

	// Planning and the serve-time state transition happen under the profile
	// lock so concurrent generates see each other's recalibration.
	var plan adaptive.Plan
	_, err := s.profiles.Update(ctx, req.UserID, req.Scope, func(p *profile.Profile) profile.Delta {
		var delta profile.Delta
		plan, delta = s.engine.PlanDifficulty(p, count)
		return delta
	})
	if err != nil {
		return nil, err
	}

	topic := req.Topic
	if topic == "" {
		topic = req.Scope
	}
	evidence, err := s.retriever.Retrieve(ctx, retrieval.Query{
		Text:   topic,
		KBID:   req.KBID,
		TopK:   s.topK,
		FetchK: s.fetchK,
		Mode:   retrieval.ModeHybrid,
	})
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, fmt.Errorf("%w: kb %d, topic %q", ErrNoEvidence, req.KBID, topic)
	}

	questions, err := s.generateQuestions(ctx, plan, evidence)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "quiz generated",
		"user_id", req.UserID, "scope", req.Scope, "target", plan.Target.String(),
		"downgraded", plan.Downgraded, "questions", len(questions))

	return &GenerateResponse{
		QuizID:    uuid.NewString(),
		Plan:      plan,
		Questions: questions,
		Evidence:  evidence,
	}, nil
}

// Submit grades the batch, updates the profile and previews the next plan.
// An empty batch leaves the profile untouched.
func (s *QuizService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.UserID == "" || req.Scope == "" {
		return nil, fmt.Errorf("%w: user_id and scope are required", retrieval.ErrInvalidParameter)
	}

	outcomes := make([]adaptive.Outcome, len(req.Items))
	correct := 0
	for i, item := range req.Items {
		graded := item.Correct
		if item.Expected != "" {
			graded = answersMatch(item.Expected, item.Given)
		}
		if graded {
			correct++
		}
		var concepts []string
		if item.Concept != "" {
			concepts = []string{item.Concept}
		}
		outcomes[i] = adaptive.Outcome{Concepts: concepts, Band: item.Band, Correct: graded}
	}

	// Grading derives the delta from the current profile, so it runs inside
	// the per-key lock; a concurrent submit on the same (user, scope) grades
	// against this one's result, never against the same snapshot.
	updated, err := s.profiles.Update(ctx, req.UserID, req.Scope, func(p *profile.Profile) profile.Delta {
		return s.engine.GradeAndUpdate(p, outcomes)
	})
	if err != nil {
		return nil, err
	}

	planCount := len(outcomes)
	if planCount == 0 {
		planCount = defaultQuizSize
	}
	nextPlan, _ := s.engine.PlanDifficulty(updated, planCount)

	logger.InfoContext(ctx, "quiz graded",
		"user_id", req.UserID, "scope", req.Scope, "correct", correct, "total", len(outcomes),
		"theta", updated.Theta, "state", string(updated.State))

	return &SubmitResponse{
		Correct:  correct,
		Total:    len(outcomes),
		Profile:  NewProfileView(updated),
		NextPlan: nextPlan,
	}, nil
}

// generateQuestions asks the LLM for one question per plan item and parses
// the JSON leniently. Bands come from the plan, not from the model.
func (s *QuizService) generateQuestions(ctx context.Context, plan adaptive.Plan, evidence []retrieval.Evidence) ([]QuizQuestion, error) {
	bandNames := make([]string, len(plan.Items))
	for i, band := range plan.Items {
		bandNames[i] = band.String()
	}

	userMessage := fmt.Sprintf(
		"Write %d quiz questions with difficulties [%s], in that order.\n\n%s",
		len(plan.Items), strings.Join(bandNames, ", "), formatEvidence(evidence))

	raw, err := s.chat.ChatWithMessages(ctx, []llm.Message{
		{Role: "system", Content: quizSystemPrompt},
		{Role: "user", Content: userMessage},
	}, llm.ChatParams{Temperature: 0.7})
	if err != nil {
		return nil, fmt.Errorf("failed to get LLM response: %w", err)
	}

	questions, err := parseQuizJSON(raw)
	if err != nil {
		return nil, err
	}

	if len(questions) > len(plan.Items) {
		questions = questions[:len(plan.Items)]
	}
	for i := range questions {
		questions[i].Band = plan.Items[i]
	}
	return questions, nil
}

// parseQuizJSON extracts the first JSON array from the model output.
// Models wrap JSON in code fences or prose often enough that strict
// decoding is not an option.
func parseQuizJSON(raw string) ([]QuizQuestion, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in quiz response")
	}

	var questions []QuizQuestion
	if err := json.Unmarshal([]byte(raw[start:end+1]), &questions); err != nil {
		return nil, fmt.Errorf("failed to parse quiz JSON: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("quiz response contained no questions")
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.Answer) == "" {
			return nil, fmt.Errorf("quiz question %d is missing question or answer text", i)
		}
	}
	return questions, nil
}

// answersMatch compares answers case-insensitively, ignoring surrounding
// whitespace and punctuation.
func answersMatch(expected, given string) bool {
	return normalizeAnswer(expected) != "" && normalizeAnswer(expected) == normalizeAnswer(given)
}

func normalizeAnswer(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
