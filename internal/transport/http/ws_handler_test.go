package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/memory"
)

func examContent() domain.TestContent {
	return domain.TestContent{
		Test: domain.Test{ID: "test-1", Title: "WS Fixture", PassingScore: 50},
		Questions: []domain.Question{
			{
				ID: "q1", Type: domain.SingleChoice, Text: "pick one", Points: 60,
				Options: []domain.Option{
					{ID: "q1-a", Text: "no"},
					{ID: "q1-b", Text: "yes", Correct: true},
				},
			},
			{ID: "q2", Type: domain.Text, Text: "explain", Points: 40},
		},
	}
}

func newWSServer(t *testing.T, content domain.TestContent) (*httptest.Server, *memory.AttemptStore) {
	t.Helper()
	store := memory.NewAttemptStore()
	catalog := memory.NewStaticCatalog(map[string]domain.TestContent{content.Test.ID: content})
	service := app.NewSessionServiceWithClock(catalog, store, memory.NewSessionRegistry(),
		time.Now, time.Millisecond)

	mux := nethttp.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(service).ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil drains messages until one of the wanted type arrives. Unexpected
// error frames fail the test immediately.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for i := 0; i < 32; i++ {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q message: %v", wantType, err)
		}
		if msg.Type == wantType {
			return msg.Payload
		}
		if msg.Type == "error" {
			t.Fatalf("unexpected error frame while waiting for %q: %s", wantType, msg.Payload)
		}
	}
	t.Fatalf("no %q message within 32 frames", wantType)
	return nil
}

func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := conn.WriteJSON(wsMessage{Type: msgType, Payload: raw}); err != nil {
		t.Fatalf("write %q message: %v", msgType, err)
	}
}

func TestWSFullAttemptFlow(t *testing.T) {
	server, store := newWSServer(t, examContent())
	conn := dial(t, server, "userId=u1&testId=test-1&eventId=e1")

	var question app.QuestionView
	if err := json.Unmarshal(readUntil(t, conn, "question"), &question); err != nil {
		t.Fatalf("unmarshal question: %v", err)
	}
	if question.ID != "q1" || len(question.Options) != 2 {
		t.Fatalf("unexpected first question: %+v", question)
	}
	for _, opt := range question.Options {
		if opt.Text == "" {
			t.Fatalf("option text missing: %+v", question.Options)
		}
	}

	sendMessage(t, conn, "draft", draftPayload{QuestionIndex: 0, OptionID: "q1-b"})
	sendMessage(t, conn, "next", struct{}{})

	if err := json.Unmarshal(readUntil(t, conn, "question"), &question); err != nil {
		t.Fatalf("unmarshal question: %v", err)
	}
	if question.ID != "q2" || question.Type != domain.Text {
		t.Fatalf("unexpected second question: %+v", question)
	}

	sendMessage(t, conn, "draft", draftPayload{QuestionIndex: 1, Text: "free form answer"})
	sendMessage(t, conn, "submit", struct{}{})

	var result resultPayload
	if err := json.Unmarshal(readUntil(t, conn, "result"), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Score != 60 {
		t.Fatalf("expected score 60, got %d", result.Score)
	}
	if !result.PendingReview {
		t.Fatalf("a text answer must flag the result for manual review")
	}
	if result.Passed == nil || !*result.Passed {
		t.Fatalf("60 against a passing score of 50 must pass, got %v", result.Passed)
	}

	// The write landed before the result was sent.
	answers, _ := store.LoadAnswers(context.Background(), firstAttemptID(t, store))
	if len(answers) != 2 {
		t.Fatalf("expected both answers persisted, got %+v", answers)
	}
}

func TestWSRestoreDecisionFlow(t *testing.T) {
	content := examContent()
	server, store := newWSServer(t, content)

	attempt, err := store.EnsureAttempt(context.Background(), "u1", "test-1", "e1")
	if err != nil {
		t.Fatalf("ensure attempt: %v", err)
	}
	if err := store.SaveAnswer(context.Background(), attempt.ID, domain.Answer{
		QuestionID: "q1", Type: domain.SingleChoice, OptionID: "q1-b",
	}); err != nil {
		t.Fatalf("seed answer: %v", err)
	}

	conn := dial(t, server, "userId=u1&testId=test-1&eventId=e1")

	var state app.Snapshot
	if err := json.Unmarshal(readUntil(t, conn, "state"), &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Phase != app.PhaseRestoreDecision || state.ResumeIndex != 1 {
		t.Fatalf("expected restore_decision resuming at 1, got %+v", state)
	}

	sendMessage(t, conn, "restore", restorePayload{Restore: true})

	var question app.QuestionView
	if err := json.Unmarshal(readUntil(t, conn, "question"), &question); err != nil {
		t.Fatalf("unmarshal question: %v", err)
	}
	if question.ID != "q2" {
		t.Fatalf("expected to resume at q2, got %+v", question)
	}
}

func TestWSBeginFailureSendsError(t *testing.T) {
	server, _ := newWSServer(t, examContent())
	conn := dial(t, server, "userId=u1&testId=unknown&eventId=e1")

	var msg wsMessage
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "error" {
		t.Fatalf("expected an error frame for an unknown test, got %q", msg.Type)
	}
}

func TestWSRejectsMissingIdentity(t *testing.T) {
	server, _ := newWSServer(t, examContent())

	resp, err := nethttp.Get(server.URL + "/ws?testId=test-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400 without userId, got %d", resp.StatusCode)
	}
}

func firstAttemptID(t *testing.T, store *memory.AttemptStore) string {
	t.Helper()
	attempt, err := store.EnsureAttempt(context.Background(), "u1", "test-1", "e1")
	if err != nil {
		t.Fatalf("resolve attempt: %v", err)
	}
	return attempt.ID
}
