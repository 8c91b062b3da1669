// Package worker drives the per-turn conversation pipeline: policy
// checks, prompt assembly, provider routing, protocol parsing,
// inspection, hallucination controls and persistence.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coachpipe/coachpipe/internal/inspect"
	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/coachpipe/coachpipe/internal/policy"
	"github.com/coachpipe/coachpipe/internal/profile"
	"github.com/coachpipe/coachpipe/internal/protocol"
	"github.com/coachpipe/coachpipe/internal/provider"
	"github.com/coachpipe/coachpipe/internal/router"
	"github.com/coachpipe/coachpipe/internal/stage"
	"github.com/coachpipe/coachpipe/internal/store"
	"github.com/coachpipe/coachpipe/internal/util"
)

const (
	// HistoryWindow is how many recent messages go into the prompt.
	HistoryWindow = 10
	// StoredHistoryLimit bounds persisted history per thread.
	StoredHistoryLimit = 50
	// DefaultClaimConfidence is the assumed confidence for unattributed
	// model claims in evidence domains.
	DefaultClaimConfidence = 0.6
	// StreamChunkSize bounds the size of one streaming chunk.
	StreamChunkSize = 120
)

// ChatWorker processes conversational turns end to end.
type ChatWorker struct {
	store    store.Store
	profiles profile.Store
	router   *router.Router
	ledgers  *ledger.Manager
	stages   *stage.Machine
	policy   *policy.Engine
	halluc   *inspect.HallucinationControls
	emitter  *Emitter
	persona  string
}

// NewChatWorker wires the pipeline collaborators together.
func NewChatWorker(st store.Store, profiles profile.Store, rtr *router.Router, ledgers *ledger.Manager, machine *stage.Machine, pol *policy.Engine, emitter *Emitter) *ChatWorker {
	return &ChatWorker{
		store:    st,
		profiles: profiles,
		router:   rtr,
		ledgers:  ledgers,
		stages:   machine,
		policy:   pol,
		halluc:   inspect.NewHallucinationControls(),
		emitter:  emitter,
	}
}

// SetPersona overrides the default system persona.
func (w *ChatWorker) SetPersona(persona string) {
	w.persona = persona
}

// Emitter exposes the worker's event emitter for subscribers.
func (w *ChatWorker) Emitter() *Emitter {
	return w.emitter
}

// ProcessChatRequest runs one full user turn through the pipeline.
func (w *ChatWorker) ProcessChatRequest(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	resp, err := w.processTurn(ctx, req, false)
	if err != nil {
		w.emitter.EmitError(req.ThreadID, err, isRetryable(err))
		return nil, err
	}
	return resp, nil
}

// StreamChatResponse runs the same pipeline but delivers the assistant
// message as chunked streaming events.
func (w *ChatWorker) StreamChatResponse(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	w.emitter.Emit(models.EventStreamingStart, req.ThreadID, nil)
	resp, err := w.processTurn(ctx, req, true)
	if err != nil {
		w.emitter.Emit(models.EventStreamingError, req.ThreadID, err.Error())
		w.emitter.EmitError(req.ThreadID, err, isRetryable(err))
		return nil, err
	}
	return resp, nil
}

// GetThreadHistory returns the most recent limit messages for a thread.
func (w *ChatWorker) GetThreadHistory(threadID string, limit int) ([]models.Message, error) {
	if _, err := w.store.GetThread(threadID); err != nil {
		return nil, err
	}
	return w.store.GetMessages(threadID, limit)
}

// ProcessUserResponses folds structured answers into the ledger, runs the
// stage transition and generates the follow-up turn.
func (w *ChatWorker) ProcessUserResponses(ctx context.Context, threadID string, responses []models.UserResponse) (*models.ChatResponse, error) {
	thread, err := w.store.GetThread(threadID)
	if err != nil {
		return nil, err
	}
	if thread.Status != models.ThreadStatusActive {
		return nil, fmt.Errorf("%w: %s", models.ErrThreadNotActive, threadID)
	}
	if err := w.restoreConversationState(thread); err != nil {
		return nil, err
	}

	for _, r := range responses {
		value := responseValue(r)
		if value == "" {
			continue
		}
		w.ledgers.UpdateSlot(threadID, r.QuestionID, value)
	}

	summary := summarizeResponses(responses)
	if err := w.store.AddMessage(newMessage(threadID, models.MessageRoleUser, summary)); err != nil {
		return nil, err
	}

	next := w.stages.TransitionToNext(threadID, thread.Domain, responses)
	if next != thread.Stage {
		if err := w.store.UpdateThreadStage(threadID, next); err != nil {
			return nil, err
		}
		thread.Stage = next
		slog.Info("ChatWorker.ProcessUserResponses: stage transition", "threadID", threadID, "stage", next)
	}

	req := models.ChatRequest{
		ThreadID: threadID,
		UserID:   thread.UserID,
		Content:  summary,
		Domain:   thread.Domain,
		Language: thread.Language,
	}
	resp, err := w.runPipeline(ctx, thread, req, false)
	if err != nil {
		w.emitter.EmitError(threadID, err, isRetryable(err))
		return nil, err
	}
	return resp, nil
}

// processTurn validates the request, resolves the thread and runs the
// generation pipeline.
func (w *ChatWorker) processTurn(ctx context.Context, req models.ChatRequest, streaming bool) (*models.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	language := req.Language
	if language == "" {
		language = "en"
	}
	req.Language = language
	if err := w.policy.ProcessUserInput(req.Content, language, req.AgeBand); err != nil {
		return nil, err
	}

	thread, err := w.resolveThread(&req)
	if err != nil {
		return nil, err
	}
	req.ThreadID = thread.ID

	if err := w.store.AddMessage(newMessage(thread.ID, models.MessageRoleUser, req.Content)); err != nil {
		return nil, err
	}

	return w.runPipeline(ctx, thread, req, streaming)
}

// runPipeline is the shared back half of a turn: prompt, provider call,
// parse, inspect, moderate, persist and emit.
func (w *ChatWorker) runPipeline(ctx context.Context, thread *models.Thread, req models.ChatRequest, streaming bool) (*models.ChatResponse, error) {
	prompt, err := w.buildTurnPrompt(ctx, thread, req, false)
	if err != nil {
		return nil, err
	}

	reqCtx := models.RequestContext{
		Domain:   thread.Domain,
		Language: req.Language,
		UserType: req.UserType,
		AgeBand:  req.AgeBand,
	}
	opts := provider.GenerateOptions{Language: req.Language}

	result, err := w.router.RouteRequest(ctx, prompt, reqCtx, opts)
	if err != nil {
		return nil, err
	}

	raw := result.Response
	if looksLikeJSON(raw) {
		slog.Warn("ChatWorker.runPipeline: JSON-shaped response, retrying once", "threadID", thread.ID, "provider", result.Provider)
		retryPrompt, perr := w.buildTurnPrompt(ctx, thread, req, true)
		if perr != nil {
			return nil, perr
		}
		retry, rerr := w.router.RouteRequest(ctx, retryPrompt, reqCtx, opts)
		if rerr != nil {
			return nil, rerr
		}
		if looksLikeJSON(retry.Response) {
			return nil, fmt.Errorf("%w: provider %s", models.ErrJSONResponse, retry.Provider)
		}
		result = retry
		raw = retry.Response
	}

	turn := protocol.Parse(raw)

	inspection := inspect.Inspect(turn, req.Language, req.AgeBand)
	if inspection.Decision == inspect.DecisionRevise {
		slog.Warn("ChatWorker.runPipeline: turn failed inspection, substituting clarification",
			"threadID", thread.ID, "errors", len(inspection.Errors))
		turn = clarificationTurn(inspection.Errors)
	} else {
		turn = inspection.Turn
	}

	if w.policy.EvidenceModeEnabled() {
		turn = w.halluc.ModerateClaims(turn, thread.Domain)
		turn = w.halluc.AddEvidenceMode(turn, thread.Domain, DefaultClaimConfidence)
	}

	turn.Message = w.policy.ProcessAssistantOutput(turn.Message, req.Language, req.AgeBand)

	if err := w.persistAssistantTurn(thread, turn); err != nil {
		return nil, err
	}

	if streaming {
		w.emitStreaming(thread.ID, turn)
	} else {
		w.emitter.Emit(models.EventMessage, thread.ID, turn.Message)
		if len(turn.Blocks) > 0 {
			w.emitter.Emit(models.EventQuestions, thread.ID, turn.Blocks)
		}
	}
	w.emitter.Emit(models.EventComplete, thread.ID, nil)

	w.recordProfile(ctx, req, thread)

	usage := models.UsageMetrics{
		Provider:         result.Provider,
		Model:            result.Model,
		PromptTokens:     estimateTokens(prompt),
		CompletionTokens: estimateTokens(raw),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &models.ChatResponse{
		ThreadID: thread.ID,
		Stage:    thread.Stage,
		Turn:     turn,
		Usage:    usage,
	}, nil
}

// buildTurnPrompt assembles the generation prompt for the thread's
// current stage.
func (w *ChatWorker) buildTurnPrompt(ctx context.Context, thread *models.Thread, req models.ChatRequest, jsonRetry bool) (string, error) {
	history, err := w.store.GetMessages(thread.ID, HistoryWindow)
	if err != nil {
		return "", err
	}

	var personalization string
	if w.profiles != nil {
		if p, perr := w.profiles.Get(ctx, thread.UserID); perr == nil {
			personalization = profile.BuildPersonalization(p)
		} else {
			slog.Warn("ChatWorker.buildTurnPrompt: profile lookup failed", "error", perr, "userID", thread.UserID)
		}
	}

	return buildPrompt(promptInput{
		persona:         w.persona,
		toneGuide:       policy.BuildToneGuide(req.UserType, req.AgeBand),
		personalization: personalization,
		history:         history,
		stageDirective:  w.stages.StagePrompt(thread.ID, thread.Domain),
		jsonRetry:       jsonRetry,
	}), nil
}

// persistAssistantTurn stores the assistant message, trims history,
// snapshots the ledger and updates thread bookkeeping.
func (w *ChatWorker) persistAssistantTurn(thread *models.Thread, turn models.AssistantTurn) error {
	if err := w.store.AddMessage(newMessage(thread.ID, models.MessageRoleAssistant, turn.Message)); err != nil {
		return err
	}
	if err := w.store.TrimMessages(thread.ID, StoredHistoryLimit); err != nil {
		slog.Warn("ChatWorker.persistAssistantTurn: history trim failed", "error", err, "threadID", thread.ID)
	}
	if state, ok := w.ledgers.Snapshot(thread.ID); ok {
		if err := w.store.SaveLedgerState(thread.ID, state); err != nil {
			slog.Warn("ChatWorker.persistAssistantTurn: ledger snapshot failed", "error", err, "threadID", thread.ID)
		}
	}
	if err := w.store.TouchThread(thread.ID, time.Now()); err != nil {
		slog.Warn("ChatWorker.persistAssistantTurn: touch failed", "error", err, "threadID", thread.ID)
	}
	if turn.Flow == models.FlowDone {
		if err := w.store.UpdateThreadStatus(thread.ID, models.ThreadStatusCompleted); err != nil {
			return err
		}
		thread.Status = models.ThreadStatusCompleted
		slog.Info("ChatWorker.persistAssistantTurn: thread completed", "threadID", thread.ID)
	}
	return nil
}

// resolveThread loads the request's thread or creates a fresh one.
func (w *ChatWorker) resolveThread(req *models.ChatRequest) (*models.Thread, error) {
	if req.ThreadID != "" {
		thread, err := w.store.GetThread(req.ThreadID)
		if err != nil {
			return nil, err
		}
		if thread.Status != models.ThreadStatusActive {
			return nil, fmt.Errorf("%w: %s", models.ErrThreadNotActive, thread.ID)
		}
		if err := w.restoreConversationState(thread); err != nil {
			return nil, err
		}
		if req.Domain == "" {
			req.Domain = thread.Domain
		}
		return thread, nil
	}

	domain := req.Domain
	if domain == "" {
		domain = models.DomainPersonalGrowth
	}
	now := time.Now().UTC()
	thread := &models.Thread{
		ID:        util.GenerateThreadID(),
		UserID:    req.UserID,
		Domain:    domain,
		Language:  req.Language,
		Stage:     models.StageDiscover,
		Status:    models.ThreadStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.store.CreateThread(*thread); err != nil {
		return nil, err
	}
	w.ledgers.Create(thread.ID)
	w.ledgers.UpdateSlot(thread.ID, "domainOfLife", string(domain))
	w.ledgers.UpdateSlot(thread.ID, "language", req.Language)
	if err := w.stages.SetStage(thread.ID, models.StageDiscover); err != nil {
		return nil, err
	}
	slog.Info("ChatWorker.resolveThread: thread created", "threadID", thread.ID, "userID", req.UserID, "domain", domain)
	return thread, nil
}

// restoreConversationState rebuilds in-memory ledger and stage state for
// a thread after a process restart.
func (w *ChatWorker) restoreConversationState(thread *models.Thread) error {
	if !w.ledgers.Exists(thread.ID) {
		state, err := w.store.GetLedgerState(thread.ID)
		switch {
		case err == nil:
			w.ledgers.Restore(thread.ID, *state)
		case errors.Is(err, models.ErrLedgerNotFound):
			w.ledgers.Create(thread.ID)
			w.ledgers.UpdateSlot(thread.ID, "domainOfLife", string(thread.Domain))
			w.ledgers.UpdateSlot(thread.ID, "language", thread.Language)
		default:
			return err
		}
	}
	return w.stages.SetStage(thread.ID, thread.Stage)
}

// recordProfile updates cross-session personalization, best effort.
func (w *ChatWorker) recordProfile(ctx context.Context, req models.ChatRequest, thread *models.Thread) {
	if w.profiles == nil {
		return
	}
	if _, err := w.profiles.Record(ctx, thread.UserID, string(thread.Domain), req.Language); err != nil {
		slog.Warn("ChatWorker.recordProfile: profile update failed", "error", err, "userID", thread.UserID)
	}
}

// emitStreaming delivers the message as bounded chunks.
func (w *ChatWorker) emitStreaming(threadID string, turn models.AssistantTurn) {
	for _, chunk := range splitChunks(turn.Message, StreamChunkSize) {
		w.emitter.Emit(models.EventStreamingChunk, threadID, chunk)
	}
	if len(turn.Blocks) > 0 {
		w.emitter.Emit(models.EventQuestions, threadID, turn.Blocks)
	}
	w.emitter.Emit(models.EventStreamingComplete, threadID, turn.Message)
}

// clarificationTurn synthesizes the substitute turn shown when the
// inspector rejects a response without repair.
func clarificationTurn(errs []inspect.Error) models.AssistantTurn {
	message := "I want to make sure I understood you correctly. Could you confirm?"
	if len(errs) > 0 && errs[0].Suggestion != "" {
		message = errs[0].Suggestion
	}
	return models.AssistantTurn{
		Message: message,
		Blocks: []models.QuestionBlock{{
			ID:       "clarify",
			Type:     models.QuestionTypeSingle,
			Progress: "1/1",
			Questions: []models.Question{{
				ID:     "clarify_q1",
				Prompt: "Does that match what you meant?",
				Type:   models.QuestionTypeSingle,
				Options: []models.Option{
					{Value: "yes", Label: "Yes"},
					{Value: "no", Label: "No"},
				},
			}},
		}},
		Flow:   models.FlowOK,
		Intent: models.IntentNone,
	}
}

func newMessage(threadID string, role models.MessageRole, content string) models.Message {
	return models.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// responseValue extracts the ledger value for one structured answer.
func responseValue(r models.UserResponse) string {
	if r.HasSelection() {
		return strings.Join(r.Selected, ", ")
	}
	if r.FreeText != "" {
		return r.FreeText
	}
	return r.Transcript
}

func summarizeResponses(responses []models.UserResponse) string {
	var parts []string
	for _, r := range responses {
		if v := responseValue(r); v != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", r.QuestionID, v))
		}
	}
	if len(parts) == 0 {
		return "(no answer provided)"
	}
	return strings.Join(parts, "; ")
}

// isRetryable reports whether a turn failure may succeed on retry.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, models.ErrEmptyUserID),
		errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrContentTooLong),
		errors.Is(err, models.ErrInvalidDomain),
		errors.Is(err, models.ErrUnsupportedLanguage),
		errors.Is(err, models.ErrInappropriateContent),
		errors.Is(err, models.ErrThreadNotFound),
		errors.Is(err, models.ErrThreadNotActive):
		return false
	}
	return true
}
