package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mcp-chat/internal/app"
	"mcp-chat/internal/auth"
	"mcp-chat/internal/repository/db"
	"mcp-chat/internal/service/chat"
	"mcp-chat/internal/service/conversation"
	"mcp-chat/internal/service/llm"
	"mcp-chat/internal/service/power"
	"mcp-chat/internal/testutil"
)

func identity(userID string) auth.Identity {
	return auth.Identity{UserID: userID, Status: auth.StatusAuthenticated}
}

func newManager(t *testing.T, adapters llm.Adapters, sealer *auth.Sealer) (*Manager, *app.Config) {
	t.Helper()
	cfg := testutil.NewMockConfig()
	m := NewManager(cfg, adapters, sealer)
	t.Cleanup(m.Close)
	return m, cfg
}

func startSession(t *testing.T, m *Manager, userID string) *State {
	t.Helper()
	state, err := m.Start(context.Background(), identity(userID))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return state
}

func TestManager_StartCreatesDefaults(t *testing.T) {
	m, cfg := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "abcdef-123")

	if got := state.Profile().DisplayName; got != "Anonymous user abcd" {
		t.Errorf("DisplayName = %q, want Anonymous user abcd", got)
	}
	doc, err := cfg.Store.Get(context.Background(), db.CollectionPath("test-app", "abcdef-123", db.CollectionProfile), db.ProfileDocumentID)
	if err != nil {
		t.Fatalf("profile document not stored: %v", err)
	}
	if doc.Fields["displayName"] != "Anonymous user abcd" {
		t.Errorf("stored displayName = %v", doc.Fields["displayName"])
	}

	if n := len(state.Conversations.List()); n != 1 {
		t.Errorf("conversations = %d, want 1", n)
	}
	if got := strings.Join(state.ActiveConnectorNames(), ", "); got != "File system, Web search" {
		t.Errorf("active connectors = %q", got)
	}
	if got := state.Ledger.Remaining(power.Reasoning); got != 15 {
		t.Errorf("reasoning credits = %d, want 15", got)
	}
}

func TestManager_StartIsIdempotent(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)

	first := startSession(t, m, "user-1")
	second := startSession(t, m, "user-1")
	if first != second {
		t.Error("Start() created a second session for the same user")
	}
}

func TestManager_StartRequiresAuthentication(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)

	_, err := m.Start(context.Background(), auth.Identity{UserID: "user-1", Status: auth.StatusError})
	if !errors.Is(err, conversation.ErrStorePreconditionNotMet) {
		t.Errorf("Start() error = %v, want ErrStorePreconditionNotMet", err)
	}
}

func TestManager_EndTearsDownSubscriptions(t *testing.T) {
	m, cfg := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "user-1")

	m.End("user-1")

	if _, ok := m.Get("user-1"); ok {
		t.Error("Get() found an ended session")
	}
	_, _ = cfg.Store.Create(context.Background(), db.CollectionPath("test-app", "user-1", db.CollectionTools), map[string]any{"name": "late"})
	if n := len(state.Tools()); n != 0 {
		t.Errorf("ended session received %d tools", n)
	}
	if _, err := state.AddTool(context.Background(), db.Tool{Name: "x"}); !errors.Is(err, conversation.ErrStorePreconditionNotMet) {
		t.Errorf("AddTool() after End error = %v, want ErrStorePreconditionNotMet", err)
	}
	if err := state.DeleteTool(context.Background(), "any"); !errors.Is(err, conversation.ErrStorePreconditionNotMet) {
		t.Errorf("DeleteTool() after End error = %v, want ErrStorePreconditionNotMet", err)
	}
	if err := state.DeleteAgent(context.Background(), "any"); !errors.Is(err, conversation.ErrStorePreconditionNotMet) {
		t.Errorf("DeleteAgent() after End error = %v, want ErrStorePreconditionNotMet", err)
	}

	m.End("user-1")
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)
	alice := startSession(t, m, "alice")
	bob := startSession(t, m, "bob")

	if _, err := alice.AddTool(context.Background(), db.Tool{Name: "grep"}); err != nil {
		t.Fatalf("AddTool() error = %v", err)
	}
	_ = alice.Ledger.Charge(power.CodeGen)

	if n := len(bob.Tools()); n != 0 {
		t.Errorf("bob sees %d tools, want 0", n)
	}
	if got := bob.Ledger.Remaining(power.CodeGen); got != 12 {
		t.Errorf("bob codeGen = %d, want 12", got)
	}
}

func TestState_ToolsAndAgents(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "user-1")
	ctx := context.Background()

	grep, err := state.AddTool(ctx, db.Tool{Name: "grep", Description: "search files"})
	if err != nil {
		t.Fatalf("AddTool() error = %v", err)
	}
	curl, _ := state.AddTool(ctx, db.Tool{Name: "curl"})
	if err := state.SetToolStatus(ctx, curl, db.StatusInactive); err != nil {
		t.Fatalf("SetToolStatus() error = %v", err)
	}

	agentID, err := state.AddAgent(ctx, db.Agent{Name: "Lawyer", ProfessionPrompt: "You are a lawyer", ToolIDs: []string{grep, curl}})
	if err != nil {
		t.Fatalf("AddAgent() error = %v", err)
	}

	active, err := state.SelectActiveAgent(ctx, agentID)
	if err != nil || active == nil || *active != agentID {
		t.Fatalf("SelectActiveAgent() = %v, %v, want %s", active, err, agentID)
	}
	agent, ok := state.ActiveAgent()
	if !ok || agent.ProfessionPrompt != "You are a lawyer" {
		t.Errorf("ActiveAgent() = %+v, %v", agent, ok)
	}
	tools := state.ActiveTools()
	if len(tools) != 1 || tools[0].ID != grep {
		t.Errorf("ActiveTools() = %+v, want only grep", tools)
	}

	active, err = state.SelectActiveAgent(ctx, agentID)
	if err != nil || active != nil {
		t.Errorf("second SelectActiveAgent() = %v, %v, want cleared", active, err)
	}
	if _, ok := state.ActiveAgent(); ok {
		t.Error("ActiveAgent() still set after toggling off")
	}

	if err := state.SetToolStatus(ctx, "missing", db.StatusActive); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("SetToolStatus(missing) error = %v, want ErrItemNotFound", err)
	}
	if err := state.DeleteAgent(ctx, agentID); err != nil {
		t.Fatalf("DeleteAgent() error = %v", err)
	}
	if n := len(state.Agents()); n != 0 {
		t.Errorf("agents = %d after delete, want 0", n)
	}
}

func TestState_CustomModelDispatch(t *testing.T) {
	var got llm.Request
	custom := &testutil.MockAdapter{GenerateFunc: func(ctx context.Context, req llm.Request) (string, error) {
		got = req
		return "grok says hi", nil
	}}
	m, _ := newManager(t, llm.Adapters{Custom: custom}, nil)
	state := startSession(t, m, "user-1")
	ctx := context.Background()

	model, err := state.AddCustomModel(ctx, " grok-2 ", "https://api.x.ai")
	if err != nil {
		t.Fatalf("AddCustomModel() error = %v", err)
	}
	if !strings.HasPrefix(model.ModelID, "custom-api-") {
		t.Errorf("ModelID = %q, want custom-api- prefix", model.ModelID)
	}

	resp, err := state.Chat.SendMessage(ctx, chat.SendMessageRequest{Message: "hi", Model: model.ModelID})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.Reply.IsError {
		t.Fatalf("reply is an error: %s", resp.Reply.Text)
	}
	if got.Model.CanonicalName != "grok-2" || got.Model.BaseURL != "https://api.x.ai" {
		t.Errorf("adapter got model %+v", got.Model)
	}

	if err := state.DeleteCustomModel(ctx, model.ModelID); err != nil {
		t.Fatalf("DeleteCustomModel() error = %v", err)
	}
	if _, err := state.Models.Resolve(model.ModelID); err == nil {
		t.Error("Resolve() still finds the deleted custom model")
	}
}

func TestState_SaveProfileSealsKeys(t *testing.T) {
	sealer := auth.NewSealer("credentials-key-with-at-least-32-chars")
	var gotKey string
	openai := &testutil.MockAdapter{GenerateFunc: func(ctx context.Context, req llm.Request) (string, error) {
		gotKey = req.Credentials.APIKey
		return "ok", nil
	}}
	m, cfg := newManager(t, llm.Adapters{OpenAI: openai}, sealer)
	state := startSession(t, m, "user-1")
	ctx := context.Background()

	err := state.SaveProfile(ctx, ProfileUpdate{
		DisplayName:  "  Ada ",
		OpenAIConfig: db.BackendCredentials{APIKey: " sk-test ", BaseURL: "https://proxy.local"},
	})
	if err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}

	doc, _ := cfg.Store.Get(ctx, db.CollectionPath("test-app", "user-1", db.CollectionProfile), db.ProfileDocumentID)
	stored := doc.Fields["openaiConfig"].(map[string]any)["apiKey"].(string)
	if stored == "sk-test" || !strings.HasPrefix(stored, "sealed:") {
		t.Errorf("stored key = %q, want sealed", stored)
	}

	profile := state.Profile()
	if profile.DisplayName != "Ada" || profile.OpenAIConfig.APIKey != "sk-test" {
		t.Errorf("Profile() = %+v", profile)
	}

	if _, err := state.Chat.SendMessage(ctx, chat.SendMessageRequest{Message: "hi", Model: "gpt-4o"}); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if gotKey != "sk-test" {
		t.Errorf("adapter key = %q, want sk-test", gotKey)
	}
}

func TestState_PromptsAndServersDeletedByValue(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "user-1")
	ctx := context.Background()

	_, _ = state.AddCustomPrompt(ctx, "Summarize")
	_, _ = state.AddCustomPrompt(ctx, "Summarize")
	_, _ = state.AddCustomPrompt(ctx, "Translate")
	_, _ = state.AddMCPServer(ctx, "http://localhost:9000")

	n, err := state.DeleteCustomPrompt(ctx, "Summarize")
	if err != nil || n != 2 {
		t.Errorf("DeleteCustomPrompt() = %d, %v, want 2", n, err)
	}
	prompts := state.CustomPrompts()
	if len(prompts) != 1 || prompts[0].Text != "Translate" {
		t.Errorf("CustomPrompts() = %+v", prompts)
	}

	if n, _ := state.RemoveMCPServer(ctx, "http://localhost:9000"); n != 1 {
		t.Errorf("RemoveMCPServer() = %d, want 1", n)
	}
	if len(state.MCPServers()) != 0 {
		t.Error("MCP server still listed")
	}
}

func TestState_ContextPills(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "user-1")
	ctx := context.Background()

	id, err := state.AddContextPill(ctx, "Formal", "Answer formally")
	if err != nil {
		t.Fatalf("AddContextPill() error = %v", err)
	}
	pills := state.ContextPills()
	if len(pills) != 1 || pills[0].ID != id || pills[0].Prompt != "Answer formally" {
		t.Errorf("ContextPills() = %+v", pills)
	}
	_ = state.DeleteContextPill(ctx, id)
	if len(state.ContextPills()) != 0 {
		t.Error("context pill still listed")
	}
}

func TestState_Connectors(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "user-1")

	if err := state.SetActiveConnectors([]string{"audio", "database"}); err != nil {
		t.Fatalf("SetActiveConnectors() error = %v", err)
	}
	if got := strings.Join(state.ActiveConnectorNames(), ", "); got != "Database, Audio processing" {
		t.Errorf("names = %q, want catalog order", got)
	}

	if err := state.SetActiveConnectors([]string{"teleport"}); err == nil {
		t.Error("SetActiveConnectors(unknown) error = nil")
	}

	on, err := state.ToggleConnector("vision")
	if err != nil || !on {
		t.Errorf("ToggleConnector() = %v, %v, want on", on, err)
	}
	if len(state.Connectors()) != 5 {
		t.Errorf("len(Connectors()) = %d, want 5", len(state.Connectors()))
	}
}

func TestState_PowerSendEndToEnd(t *testing.T) {
	m, _ := newManager(t, llm.Adapters{}, nil)
	state := startSession(t, m, "user-1")
	ctx := context.Background()

	resp, err := state.Chat.SendMessage(ctx, chat.SendMessageRequest{Message: "/search mcp", Model: "gemini-2.0-flash"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if resp.PowerUsed != power.SuperSearch || state.Ledger.Remaining(power.SuperSearch) != 7 {
		t.Errorf("power = %s, remaining = %d", resp.PowerUsed, state.Ledger.Remaining(power.SuperSearch))
	}

	conv, _ := state.Conversations.Get(resp.ConversationID)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(conv.Messages))
	}
	if conv.Title != "/search mcp" {
		t.Errorf("Title = %q, want /search mcp", conv.Title)
	}
}

// gatedStore blocks subscriptions of one user until release is closed
type gatedStore struct {
	db.DocumentStore
	userID  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedStore) Subscribe(ctx context.Context, collection string, q db.Query, onSnapshot func(db.Snapshot), onError func(error)) (db.Unsubscribe, error) {
	if strings.Contains(collection, "/"+g.userID+"/") {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}
	return g.DocumentStore.Subscribe(ctx, collection, q, onSnapshot, onError)
}

func TestManager_SlowStartDoesNotBlockOtherUsers(t *testing.T) {
	cfg := testutil.NewMockConfig()
	gate := &gatedStore{
		DocumentStore: cfg.Store,
		userID:        "slow",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	cfg.Store = gate
	m := NewManager(cfg, llm.Adapters{}, nil)
	t.Cleanup(m.Close)

	type result struct {
		state *State
		err   error
	}
	slow := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			state, err := m.Start(context.Background(), identity("slow"))
			slow <- result{state, err}
		}()
	}
	<-gate.entered

	fast := make(chan error, 1)
	go func() {
		_, err := m.Start(context.Background(), identity("fast"))
		fast <- err
	}()
	select {
	case err := <-fast:
		if err != nil {
			t.Fatalf("Start(fast) error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start(fast) blocked behind another user's start")
	}

	close(gate.release)
	first, second := <-slow, <-slow
	if first.err != nil || second.err != nil {
		t.Fatalf("Start(slow) errors = %v, %v", first.err, second.err)
	}
	if first.state != second.state {
		t.Error("concurrent Start() calls for one user created two sessions")
	}
	if state, ok := m.Get("slow"); !ok || state != first.state {
		t.Error("Get(slow) does not return the started session")
	}
}
