package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/coachpipe/coachpipe/internal/ledger"
	"github.com/coachpipe/coachpipe/internal/models"
	"github.com/coachpipe/coachpipe/internal/policy"
	"github.com/coachpipe/coachpipe/internal/profile"
	"github.com/coachpipe/coachpipe/internal/provider"
	"github.com/coachpipe/coachpipe/internal/router"
	"github.com/coachpipe/coachpipe/internal/stage"
	"github.com/coachpipe/coachpipe/internal/store"
)

// seqProvider returns scripted responses in order, repeating the last.
type seqProvider struct {
	cfg       models.ProviderConfig
	responses []string
	calls     int
}

func (p *seqProvider) GenerateResponse(ctx context.Context, prompt, model string, opts provider.GenerateOptions) (string, error) {
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return p.responses[i], nil
}

func (p *seqProvider) Config() models.ProviderConfig { return p.cfg }

func testProviderConfig(id string, order int) models.ProviderConfig {
	return models.ProviderConfig{
		ID:            id,
		Type:          models.ProviderStatic,
		Models:        []string{"canned-1"},
		DefaultModel:  "canned-1",
		Active:        true,
		FallbackOrder: order,
	}
}

func newTestWorker(t *testing.T, providers ...provider.LLMProvider) (*ChatWorker, *store.InMemoryStore, *ledger.Manager) {
	t.Helper()
	st := store.NewInMemoryStore()
	rtr := router.New(nil)
	for _, p := range providers {
		if err := rtr.AddProvider(p); err != nil {
			t.Fatalf("AddProvider: %v", err)
		}
	}
	ledgers := ledger.NewManager()
	machine := stage.NewMachine(ledgers)
	pol := policy.NewEngine(policy.DefaultConfig())
	w := NewChatWorker(st, profile.NewInMemoryStore(), rtr, ledgers, machine, pol, NewEmitter())
	return w, st, ledgers
}

func collectEvents(ch <-chan models.Event) []models.Event {
	var out []models.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []models.Event) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func hasEvent(events []models.Event, t models.EventType) bool {
	for _, ev := range events {
		if ev.Type == t {
			return true
		}
	}
	return false
}

func TestProcessChatRequestCreatesThread(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, st, _ := newTestWorker(t, p)
	events, cancel := w.Emitter().Subscribe()
	defer cancel()

	resp, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "I want to grow as a person",
		Domain:  models.DomainPersonalGrowth,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}
	if resp.ThreadID == "" {
		t.Fatal("expected a thread id")
	}
	if resp.Stage != models.StageDiscover {
		t.Errorf("expected DISCOVER stage, got %s", resp.Stage)
	}
	if !strings.Contains(resp.Turn.Message, "Thanks for sharing") {
		t.Errorf("unexpected message %q", resp.Turn.Message)
	}
	if len(resp.Turn.Blocks) != 1 {
		t.Fatalf("expected 1 question block, got %d", len(resp.Turn.Blocks))
	}
	if resp.Usage.Provider != "static-1" || resp.Usage.TotalTokens == 0 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}

	thread, err := st.GetThread(resp.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.Status != models.ThreadStatusActive {
		t.Errorf("expected active thread, got %s", thread.Status)
	}

	msgs, err := st.GetMessages(resp.ThreadID, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.MessageRoleUser || msgs[1].Role != models.MessageRoleAssistant {
		t.Errorf("unexpected roles %s/%s", msgs[0].Role, msgs[1].Role)
	}

	got := collectEvents(events)
	for _, want := range []models.EventType{models.EventMessage, models.EventQuestions, models.EventComplete} {
		if !hasEvent(got, want) {
			t.Errorf("missing %s event in %v", want, eventTypes(got))
		}
	}
}

func TestProcessChatRequestEvidenceDisclaimer(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, _, _ := newTestWorker(t, p)

	resp, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "How should I invest my savings?",
		Domain:  models.DomainFinance,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}
	if !strings.Contains(resp.Turn.Message, "general patterns") {
		t.Errorf("finance turn should carry the evidence disclaimer:\n%s", resp.Turn.Message)
	}
}

func TestProcessChatRequestFallbackProvider(t *testing.T) {
	flaky := provider.NewStaticProvider(testProviderConfig("flaky", 1))
	flaky.Err = errors.New("upstream 500")
	steady := provider.NewStaticProvider(testProviderConfig("steady", 2))
	w, _, _ := newTestWorker(t, flaky, steady)

	resp, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "hello",
		Domain:  models.DomainPersonalGrowth,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}
	if resp.Usage.Provider != "steady" {
		t.Errorf("expected fallback provider in usage, got %s", resp.Usage.Provider)
	}
}

func TestProcessChatRequestJSONGuard(t *testing.T) {
	p := &seqProvider{
		cfg: testProviderConfig("json-then-md", 1),
		responses: []string{
			`{"message": "hi"}`,
			"Glad you asked. Let's dig in.",
		},
	}
	w, _, _ := newTestWorker(t, p)

	resp, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "hello",
		Domain:  models.DomainPersonalGrowth,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected one corrective retry, got %d calls", p.calls)
	}
	if !strings.Contains(resp.Turn.Message, "Glad you asked") {
		t.Errorf("unexpected message %q", resp.Turn.Message)
	}
}

func TestProcessChatRequestJSONGuardExhausted(t *testing.T) {
	p := &seqProvider{
		cfg:       testProviderConfig("json-only", 1),
		responses: []string{`{"message": "hi"}`},
	}
	w, _, _ := newTestWorker(t, p)

	_, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "hello",
		Domain:  models.DomainPersonalGrowth,
	})
	if !errors.Is(err, models.ErrJSONResponse) {
		t.Errorf("expected ErrJSONResponse, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", p.calls)
	}
}

func TestProcessChatRequestClarificationOnRevise(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	p.Response = "This plan is damn solid, trust me."
	w, st, _ := newTestWorker(t, p)

	resp, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "What do you think of my plan?",
		Domain:  models.DomainPersonalGrowth,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}
	if len(resp.Turn.Blocks) != 1 || resp.Turn.Blocks[0].ID != "clarify" {
		t.Fatalf("expected the clarify block, got %+v", resp.Turn.Blocks)
	}
	q := resp.Turn.Blocks[0].Questions[0]
	if q.ID != "clarify_q1" || len(q.Options) != 2 {
		t.Errorf("unexpected clarification question %+v", q)
	}
	if strings.Contains(resp.Turn.Message, "damn") {
		t.Errorf("rejected text must not reach the user: %q", resp.Turn.Message)
	}

	msgs, err := st.GetMessages(resp.ThreadID, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if msgs[len(msgs)-1].Content != resp.Turn.Message {
		t.Error("clarification turn should be persisted as the assistant message")
	}
}

func TestProcessChatRequestValidation(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, _, _ := newTestWorker(t, p)
	events, cancel := w.Emitter().Subscribe()
	defer cancel()

	_, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{UserID: "u1"})
	if !errors.Is(err, models.ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	got := collectEvents(events)
	if len(got) != 1 || got[0].Type != models.EventError {
		t.Fatalf("expected a single error event, got %v", eventTypes(got))
	}
	if got[0].Retryable {
		t.Error("validation failures must not be marked retryable")
	}
	if len(p.Calls) != 0 {
		t.Errorf("provider must not be called on validation failure, got %d calls", len(p.Calls))
	}
}

func TestProcessUserResponsesAdvancesStage(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, st, ledgers := newTestWorker(t, p)

	first, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:   "u1",
		Content:  "I want a promotion",
		Domain:   models.DomainCareer,
		Language: "en",
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}

	responses := []models.UserResponse{
		{QuestionID: "goal", FreeText: "get promoted to senior engineer"},
		{QuestionID: "timeframe", Selected: []string{"6 months"}},
		{QuestionID: "availability", FreeText: "2 hours/day"},
		{QuestionID: "resources", FreeText: "online courses"},
	}
	resp, err := w.ProcessUserResponses(context.Background(), first.ThreadID, responses)
	if err != nil {
		t.Fatalf("ProcessUserResponses: %v", err)
	}

	known := ledgers.KnownSlots(first.ThreadID)
	if known["goal"] != "get promoted to senior engineer" {
		t.Errorf("goal slot not recorded: %v", known)
	}
	if known["timeframe"] != "6 months" {
		t.Errorf("selected value not recorded: %v", known)
	}

	thread, err := st.GetThread(first.ThreadID)
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if thread.Stage != models.StageMirror {
		t.Errorf("6 of 7 career slots known should advance to MIRROR, got %s", thread.Stage)
	}
	if resp.Stage != models.StageMirror {
		t.Errorf("response should carry the new stage, got %s", resp.Stage)
	}
}

func TestProcessUserResponsesInactiveThread(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, st, _ := newTestWorker(t, p)

	first, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "hello",
		Domain:  models.DomainCareer,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}
	if err := st.UpdateThreadStatus(first.ThreadID, models.ThreadStatusCompleted); err != nil {
		t.Fatalf("UpdateThreadStatus: %v", err)
	}

	_, err = w.ProcessUserResponses(context.Background(), first.ThreadID, []models.UserResponse{
		{QuestionID: "goal", FreeText: "x"},
	})
	if !errors.Is(err, models.ErrThreadNotActive) {
		t.Errorf("expected ErrThreadNotActive, got %v", err)
	}
}

func TestStreamChatResponse(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, _, _ := newTestWorker(t, p)
	events, cancel := w.Emitter().Subscribe()
	defer cancel()

	resp, err := w.StreamChatResponse(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "hello",
		Domain:  models.DomainPersonalGrowth,
	})
	if err != nil {
		t.Fatalf("StreamChatResponse: %v", err)
	}
	got := collectEvents(events)
	if !hasEvent(got, models.EventStreamingStart) {
		t.Error("missing streaming:start event")
	}
	if !hasEvent(got, models.EventStreamingChunk) {
		t.Error("missing streaming:chunk event")
	}
	if !hasEvent(got, models.EventStreamingComplete) {
		t.Error("missing streaming:complete event")
	}

	var rebuilt []string
	for _, ev := range got {
		if ev.Type == models.EventStreamingChunk {
			rebuilt = append(rebuilt, ev.Payload.(string))
		}
	}
	if joined := strings.Join(rebuilt, " "); joined != resp.Turn.Message {
		t.Errorf("chunks should rebuild the message:\n%q\nvs\n%q", joined, resp.Turn.Message)
	}
}

func TestGetThreadHistoryUnknownThread(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, _, _ := newTestWorker(t, p)
	if _, err := w.GetThreadHistory("missing", 10); !errors.Is(err, models.ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestRestoreConversationState(t *testing.T) {
	p := provider.NewStaticProvider(testProviderConfig("static-1", 1))
	w, st, _ := newTestWorker(t, p)

	first, err := w.ProcessChatRequest(context.Background(), models.ChatRequest{
		UserID:  "u1",
		Content: "I want a promotion",
		Domain:  models.DomainCareer,
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest: %v", err)
	}

	// Fresh worker over the same store simulates a process restart.
	rtr := router.New(nil)
	if err := rtr.AddProvider(p); err != nil {
		t.Fatalf("AddProvider: %v", err)
	}
	ledgers := ledger.NewManager()
	w2 := NewChatWorker(st, profile.NewInMemoryStore(), rtr, ledgers, stage.NewMachine(ledgers), policy.NewEngine(policy.DefaultConfig()), NewEmitter())

	resp, err := w2.ProcessChatRequest(context.Background(), models.ChatRequest{
		ThreadID: first.ThreadID,
		UserID:   "u1",
		Content:  "still here",
	})
	if err != nil {
		t.Fatalf("ProcessChatRequest after restart: %v", err)
	}
	known := ledgers.KnownSlots(first.ThreadID)
	if known["domainOfLife"] != string(models.DomainCareer) {
		t.Errorf("ledger state should be restored from the store, got %v", known)
	}
	if resp.Stage != models.StageDiscover {
		t.Errorf("expected restored DISCOVER stage, got %s", resp.Stage)
	}
}
