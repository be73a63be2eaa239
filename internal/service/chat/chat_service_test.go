package chat

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mcp-chat/internal/auth"
	"mcp-chat/internal/config"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/conversation"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/power"
	"mcp-chat/internal/testutil"
)

type harness struct {
	service       *ChatService
	conversations *testutil.MockConversationStore
	session       *testutil.MockSession
	ledger        *power.Ledger
	calls         atomic.Int32
	generate      func(ctx context.Context, req llm.Request) (string, error)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conversations: testutil.NewMockConversationStore("conv-1"),
		session:       testutil.NewMockSession("user-1"),
		ledger:        power.NewLedger(power.DefaultCapabilities()),
	}
	h.generate = func(ctx context.Context, req llm.Request) (string, error) {
		return "model says hi", nil
	}

	adapter := &testutil.MockAdapter{GenerateFunc: func(ctx context.Context, req llm.Request) (string, error) {
		h.calls.Add(1)
		return h.generate(ctx, req)
	}}
	registry := llm.NewRegistry(llm.Adapters{
		Default:   adapter,
		OpenAI:    adapter,
		Anthropic: adapter,
		Custom:    adapter,
	}, llm.DescribeCatalog(config.DefaultModelsConfig().GetAvailableModels()), time.Second)

	h.service = NewChatService(Dependencies{
		Conversations: h.conversations,
		Router:        power.NewRouter(h.ledger, power.DefaultCapabilities(), 0),
		Models:        registry,
		Session:       h.session,
		DefaultModel:  "gemini-2.0-flash",
	})
	return h
}

func TestSendMessage_ModelReply(t *testing.T) {
	h := newHarness(t)
	h.service.now = func() time.Time { return time.Date(2024, 5, 1, 9, 7, 0, 0, time.UTC) }

	resp, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hello", Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := h.conversations.Messages("conv-1")
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	user, reply := msgs[0], msgs[1]
	if user.Sender != db.SenderUser || user.Text != "hello" || user.Timestamp != "09:07" {
		t.Errorf("user message = %+v", user)
	}
	if reply.ID != user.ID+1 {
		t.Errorf("reply id = %d, want %d", reply.ID, user.ID+1)
	}
	want := "model says hi\n\n*Context used (connectors): File system, Web search*"
	if reply.Text != want || reply.IsError || reply.Model != "gemini-2.0-flash" {
		t.Errorf("reply = %+v, want text %q", reply, want)
	}
	if resp.Reply != reply || resp.ConversationID != "conv-1" {
		t.Errorf("response = %+v does not describe the appended reply", resp)
	}
}

func TestSendMessage_UnknownModelUsesDefaultFamilyWithoutCredentials(t *testing.T) {
	h := newHarness(t)
	var gotFamily llm.Family
	h.generate = func(ctx context.Context, req llm.Request) (string, error) {
		gotFamily = req.Model.Family
		return "ok", nil
	}

	for _, model := range []string{"mistral-large", "llama3", "gemini-exp"} {
		if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi", Model: model}); err != nil {
			t.Fatalf("SendMessage(%s) error = %v", model, err)
		}
		if gotFamily != llm.FamilyDefault {
			t.Errorf("model %s family = %s, want default", model, gotFamily)
		}
	}

	for _, m := range h.conversations.Messages("conv-1") {
		if m.IsError {
			t.Errorf("unexpected error reply %q", m.Text)
		}
	}
}

func TestSendMessage_SlashCommandUsesPower(t *testing.T) {
	h := newHarness(t)
	prompt := "be terse"
	h.conversations.Conversations["conv-1"] = db.Conversation{ID: "conv-1", SystemPrompt: &prompt}

	resp, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "/code print('hi')", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if h.calls.Load() != 0 {
		t.Errorf("network calls = %d, want 0", h.calls.Load())
	}
	if got := h.ledger.Remaining(power.CodeGen); got != 11 {
		t.Errorf("codeGen remaining = %d, want 11", got)
	}
	if resp.PowerUsed != power.CodeGen {
		t.Errorf("PowerUsed = %s, want codeGen", resp.PowerUsed)
	}

	var replies []db.Message
	for _, m := range h.conversations.Messages("conv-1") {
		if m.Sender == db.SenderAssistant {
			replies = append(replies, m)
		}
	}
	if len(replies) != 1 {
		t.Fatalf("assistant messages = %d, want 1", len(replies))
	}
	if strings.Contains(replies[0].Text, "System prompt applied") {
		t.Error("slash-command reply must not name the system prompt")
	}
	if !strings.HasSuffix(replies[0].Text, "*Context used (connectors): File system, Web search*") {
		t.Errorf("reply %q lacks connector trailer", replies[0].Text)
	}
}

func TestSendMessage_CreditsExhausted(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		_ = h.ledger.Charge(power.ImageGen)
	}

	if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "/image a cat", Model: "gemini-2.0-flash"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := h.conversations.Messages("conv-1")
	reply := msgs[len(msgs)-1]
	if !reply.IsError || !strings.Contains(reply.Text, "credits exhausted") {
		t.Errorf("reply = %+v, want credits exhausted error", reply)
	}
	if h.calls.Load() != 0 {
		t.Errorf("network calls = %d, want 0", h.calls.Load())
	}
	if got := h.ledger.Remaining(power.ImageGen); got != 0 {
		t.Errorf("imageGen remaining = %d, want 0", got)
	}
}

func TestSendMessage_MissingCredentialsFailsFast(t *testing.T) {
	h := newHarness(t)

	if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi", Model: "gpt-4o"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := h.conversations.Messages("conv-1")
	reply := msgs[len(msgs)-1]
	if !reply.IsError || !strings.Contains(reply.Text, "API key not configured") {
		t.Errorf("reply = %+v, want missing credentials error", reply)
	}
	if reply.Model != "" {
		t.Errorf("error reply model = %q, want empty", reply.Model)
	}
	if h.calls.Load() != 0 {
		t.Errorf("network calls = %d, want 0", h.calls.Load())
	}
}

func TestSendMessage_DispatchErrorsBecomeErrorReplies(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantText string
	}{
		{
			name:     "transport",
			err:      &llm.TransportError{Status: 500, Body: "boom"},
			wantText: "An error occurred: API error: 500 - boom",
		},
		{
			name:     "unexpected shape",
			err:      &llm.UnexpectedResponseShapeError{Fallback: llm.FallbackResponseText},
			wantText: llm.FallbackResponseText + "\n\n*Context used (connectors): File system, Web search*",
		},
		{
			name:     "timeout",
			err:      &llm.TimeoutError{After: time.Second},
			wantText: "An error occurred: model request timed out after 1s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.generate = func(ctx context.Context, req llm.Request) (string, error) {
				return "", tt.err
			}

			if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"}); err != nil {
				t.Fatalf("SendMessage() error = %v", err)
			}
			msgs := h.conversations.Messages("conv-1")
			reply := msgs[len(msgs)-1]
			if !reply.IsError || reply.Text != tt.wantText {
				t.Errorf("reply = %+v, want error text %q", reply, tt.wantText)
			}
		})
	}
}

func TestSendMessage_CustomModelNotFound(t *testing.T) {
	h := newHarness(t)

	_, _ = h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi", Model: "custom-api-123"})

	msgs := h.conversations.Messages("conv-1")
	reply := msgs[len(msgs)-1]
	if !reply.IsError || !strings.Contains(reply.Text, "custom model 'custom-api-123' not found") {
		t.Errorf("reply = %+v, want custom model not found", reply)
	}
}

func TestSendMessage_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		message string
		wantErr error
	}{
		{name: "blank message", message: "   ", wantErr: ErrEmptyMessage},
		{
			name:    "no current conversation",
			setup:   func(h *harness) { h.conversations.Current = "" },
			message: "hi",
			wantErr: ErrNoConversation,
		},
		{
			name: "not authenticated",
			setup: func(h *harness) {
				h.session.IdentityValue = auth.Identity{UserID: "user-1", Status: auth.StatusLoading}
			},
			message: "hi",
			wantErr: conversation.ErrStorePreconditionNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			_, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: tt.message})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SendMessage() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(h.conversations.Messages("conv-1")); n != 0 {
				t.Errorf("appended %d messages, want 0", n)
			}
			if h.calls.Load() != 0 {
				t.Error("dispatched despite failed precondition")
			}
		})
	}
}

func TestSendMessage_ReplyGoesToSubmissionConversation(t *testing.T) {
	h := newHarness(t)
	h.generate = func(ctx context.Context, req llm.Request) (string, error) {
		h.conversations.SetCurrent("conv-2")
		return "late answer", nil
	}

	if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if n := len(h.conversations.Messages("conv-1")); n != 2 {
		t.Errorf("conv-1 messages = %d, want 2", n)
	}
	if n := len(h.conversations.Messages("conv-2")); n != 0 {
		t.Errorf("conv-2 messages = %d, want 0", n)
	}
}

func TestSendMessage_UserAppendFailureContinues(t *testing.T) {
	h := newHarness(t)
	h.conversations.AppendMessageFunc = func(ctx context.Context, conversationID string, msg db.Message) error {
		if msg.Sender == db.SenderUser {
			return errors.New("store down")
		}
		return nil
	}

	if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := h.conversations.Messages("conv-1")
	if len(msgs) != 1 || msgs[0].Sender != db.SenderAssistant {
		t.Errorf("messages = %+v, want only the assistant reply", msgs)
	}
	if h.calls.Load() != 1 {
		t.Errorf("network calls = %d, want 1", h.calls.Load())
	}
}

func TestSendMessage_ReplyAppendFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.conversations.AppendMessageFunc = func(ctx context.Context, conversationID string, msg db.Message) error {
		if msg.Sender == db.SenderAssistant {
			return errors.New("store down")
		}
		return nil
	}

	if _, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"}); err == nil {
		t.Error("SendMessage() error = nil, want persistence error")
	}
	if h.service.IsLoading() {
		t.Error("IsLoading() = true after failed send")
	}
}

func TestSendMessage_BusyFlag(t *testing.T) {
	h := newHarness(t)
	var loadingDuringCall bool
	h.generate = func(ctx context.Context, req llm.Request) (string, error) {
		loadingDuringCall = h.service.IsLoading()
		return "", errors.New("boom")
	}

	if h.service.IsLoading() {
		t.Fatal("IsLoading() = true before send")
	}
	_, _ = h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"})

	if !loadingDuringCall {
		t.Error("IsLoading() = false during model call")
	}
	if h.service.IsLoading() {
		t.Error("IsLoading() = true after send")
	}
}

func TestSendMessage_SystemPromptSelection(t *testing.T) {
	convPrompt := "Answer in French"

	tests := []struct {
		name  string
		agent *db.Agent
		want  string
	}{
		{name: "conversation prompt", want: convPrompt},
		{name: "agent prompt wins", agent: &db.Agent{ID: "a1", ProfessionPrompt: "You are a lawyer"}, want: "You are a lawyer"},
		{name: "agent without prompt", agent: &db.Agent{ID: "a2"}, want: convPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.session.Agent = tt.agent
			h.conversations.Conversations["conv-1"] = db.Conversation{ID: "conv-1", SystemPrompt: &convPrompt}

			var gotPrompt string
			h.generate = func(ctx context.Context, req llm.Request) (string, error) {
				gotPrompt = req.SystemPrompt
				return "ok", nil
			}

			resp, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"})
			if err != nil {
				t.Fatalf("SendMessage() error = %v", err)
			}
			if gotPrompt != tt.want {
				t.Errorf("system prompt = %q, want %q", gotPrompt, tt.want)
			}
			if !strings.HasSuffix(resp.Reply.Text, "*System prompt applied: \""+tt.want+"\"*") {
				t.Errorf("reply %q lacks system prompt trailer", resp.Reply.Text)
			}
		})
	}
}

func TestSendMessage_EmptyModelUsesDefault(t *testing.T) {
	h := newHarness(t)
	var gotModel string
	h.generate = func(ctx context.Context, req llm.Request) (string, error) {
		gotModel = req.Model.ID
		return "ok", nil
	}

	resp, err := h.service.SendMessage(context.Background(), SendMessageRequest{Message: "hi"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if gotModel != "gemini-2.0-flash" || resp.Reply.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q/%q, want gemini-2.0-flash", gotModel, resp.Reply.Model)
	}
}

func TestSendMessage_CallerCancelDoesNotAbortModelCall(t *testing.T) {
	h := newHarness(t)
	h.generate = func(ctx context.Context, req llm.Request) (string, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return "late answer", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(10*time.Millisecond, cancel)

	if _, err := h.service.SendMessage(ctx, SendMessageRequest{Message: "hello", Model: "gemini-2.0-flash"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msgs := h.conversations.Messages("conv-1")
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}
	if reply := msgs[1]; reply.IsError || !strings.HasPrefix(reply.Text, "late answer") {
		t.Errorf("reply = %+v, want the model's answer", reply)
	}
}

func TestSendMessage_CallerCancelDoesNotAbortPower(t *testing.T) {
	conversations := testutil.NewMockConversationStore("conv-1")
	models := &testutil.MockModelRegistry{}
	ledger := power.NewLedger(power.DefaultCapabilities())
	service := NewChatService(Dependencies{
		Conversations: conversations,
		Router:        power.NewRouter(ledger, power.DefaultCapabilities(), 50*time.Millisecond),
		Models:        models,
		Session:       testutil.NewMockSession("user-1"),
		DefaultModel:  "gemini-2.0-flash",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(10*time.Millisecond, cancel)

	resp, err := service.SendMessage(ctx, SendMessageRequest{Message: "/code hello"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.PowerUsed != power.CodeGen || resp.Reply.IsError {
		t.Errorf("reply = %+v, power = %q", resp.Reply, resp.PowerUsed)
	}
	if !strings.HasPrefix(resp.Reply.Text, "Here is a code sample") {
		t.Errorf("reply text = %q", resp.Reply.Text)
	}
	if got := ledger.Remaining(power.CodeGen); got != 11 {
		t.Errorf("codeGen remaining = %d, want 11", got)
	}
	if models.Calls != 0 {
		t.Errorf("model registry called %d times on the power path", models.Calls)
	}
}
