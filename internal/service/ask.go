package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"studycoach-ai/internal/contextutil"
	"studycoach-ai/internal/llm"
	"studycoach-ai/internal/retrieval"
	"studycoach-ai/internal/session"
)

// insufficientGroundingAnswer is returned without an LLM call when retrieval
// yields nothing. Answers are grounded-only; the model never free-associates.
const insufficientGroundingAnswer = "I couldn't find anything in the uploaded study material to answer this. " +
	"Try uploading the relevant material first, or rephrase the question."

const askSystemPrompt = "You are a study coach that answers questions strictly from the provided study material. " +
	"Answer using only the information in the context below. If the context doesn't contain enough information, " +
	"say so. Cite sources using their labels, e.g. (cells.md p.2 #1)."

// historyWindow is how many recent ledger turns are replayed into the prompt.
const historyWindow = 10

// EvidenceRetriever is the retrieval collaborator of the services.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Evidence, error)
}

// ChatClient is the text-generation collaborator.
type ChatClient interface {
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, error)
}

// AskRequest is one question against a knowledge base.
type AskRequest struct {
	SessionID string `json:"session_id,omitempty"` // empty starts a new session
	UserID    string `json:"user_id"`
	KBID      int    `json:"kb_id"`
	Question  string `json:"question"`
	Mode      string `json:"mode,omitempty"`  // dense | lexical | hybrid (default)
	TopK      int    `json:"top_k,omitempty"` // default from config
}

// AskResponse is the grounded answer with its citations.
type AskResponse struct {
	SessionID string               `json:"session_id"`
	Answer    string               `json:"answer"`
	Evidence  []retrieval.Evidence `json:"evidence"`
}

// AskService answers questions with retrieved evidence and records every
// exchange in the session ledger.
type AskService struct {
	retriever EvidenceRetriever
	ledger    *session.Ledger
	chat      ChatClient
	topK      int
	fetchK    int
}

// NewAskService creates an AskService. topK and fetchK are the defaults used
// when the request does not override them.
func NewAskService(retriever EvidenceRetriever, ledger *session.Ledger, chat ChatClient, topK, fetchK int) *AskService {
	return &AskService{
		retriever: retriever,
		ledger:    ledger,
		chat:      chat,
		topK:      topK,
		fetchK:    fetchK,
	}
}

// Ask retrieves evidence for the question, generates a grounded answer and
// appends both turns to the ledger. When no evidence is found the canned
// insufficient-grounding answer is returned and the LLM is never called.
func (s *AskService) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: empty question", retrieval.ErrInvalidParameter)
	}
	mode, err := retrieval.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.topK
	}
	fetchK := s.fetchK
	if fetchK < topK {
		fetchK = topK
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	evidence, err := s.retriever.Retrieve(ctx, retrieval.Query{
		Text:   req.Question,
		KBID:   req.KBID,
		TopK:   topK,
		FetchK: fetchK,
		Mode:   mode,
	})
	if err != nil {
		return nil, err
	}

	var answer string
	if len(evidence) == 0 {
		logger.InfoContext(ctx, "no evidence for question, skipping LLM", "kb_id", req.KBID)
		answer = insufficientGroundingAnswer
	} else {
		answer, err = s.generateAnswer(ctx, sessionID, req.Question, evidence)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.ledger.AppendTurn(ctx, sessionID, req.UserID, session.Turn{
		Role:    session.RoleUser,
		Content: req.Question,
	}); err != nil {
		return nil, fmt.Errorf("failed to record question: %w", err)
	}
	if _, err := s.ledger.AppendTurn(ctx, sessionID, req.UserID, session.Turn{
		Role:     session.RoleAssistant,
		Content:  answer,
		Evidence: evidence,
	}); err != nil {
		return nil, fmt.Errorf("failed to record answer: %w", err)
	}

	logger.InfoContext(ctx, "question answered",
		"session_id", sessionID, "kb_id", req.KBID, "evidence", len(evidence))

	return &AskResponse{SessionID: sessionID, Answer: answer, Evidence: evidence}, nil
}

// generateAnswer assembles the prompt from history and evidence and calls
// the LLM.
func (s *AskService) generateAnswer(ctx context.Context, sessionID, question string, evidence []retrieval.Evidence) (string, error) {
	history, err := s.ledger.History(ctx, sessionID, historyWindow)
	if err != nil {
		return "", fmt.Errorf("failed to load session history: %w", err)
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: askSystemPrompt})
	for _, turn := range history {
		messages = append(messages, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("%s\n\n%s", question, formatEvidence(evidence)),
	})

	answer, err := s.chat.ChatWithMessages(ctx, messages, llm.ChatParams{Temperature: 0.7})
	if err != nil {
		return "", fmt.Errorf("failed to get LLM response: %w", err)
	}
	return answer, nil
}

// formatEvidence renders the evidence block appended to the user message.
func formatEvidence(evidence []retrieval.Evidence) string {
	var b strings.Builder
	b.WriteString("--- Study material ---\n\n")
	for _, ev := range evidence {
		b.WriteString(fmt.Sprintf("[%s]\n%s\n\n", ev.Source, ev.Snippet))
	}
	b.WriteString("--- End study material ---")
	return b.String()
}
