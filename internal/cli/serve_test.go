package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ppiankov/aesop/internal/chat"
	"github.com/ppiankov/aesop/internal/contextqa"
	"github.com/ppiankov/aesop/internal/critic"
	"github.com/ppiankov/aesop/internal/intent"
	"github.com/ppiankov/aesop/internal/model"
	"github.com/ppiankov/aesop/internal/orchestrator"
	"github.com/ppiankov/aesop/internal/scout"
	"github.com/ppiankov/aesop/internal/session"
	"github.com/ppiankov/aesop/internal/synth"
)

// newTestHandler wires an Orchestrator with every LLM-backed agent left on a
// nil provider, exercising the safe-default/degraded paths rather than any
// real completion — sufficient to drive the HTTP layer end to end.
func newTestHandler() (*chatHandler, *session.Store) {
	sessions := session.New(time.Hour)
	o := orchestrator.New(
		sessions,
		intent.New(nil),
		scout.New(nil, nil),
		critic.New(nil, nil, nil),
		synth.New(nil),
		contextqa.New(nil),
		chat.New(nil),
		chat.NewUtility(nil),
		nil,
	)
	return &chatHandler{app: &app{orchestrator: o}}, sessions
}

func newTestRouter(h *chatHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.health)
	r.Post("/chat", h.chat)
	r.Get("/session/{id}", h.getSession)
	r.Delete("/session/{id}", h.deleteSession)
	return r
}

func TestHealth_ReturnsOK(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestChat_MalformedBody_Returns400(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChat_EmptyMessage_Returns400(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	body, _ := json.Marshal(chatRequest{Message: ""})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChat_Greeting_Returns200WithChatIntent(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	body, _ := json.Marshal(chatRequest{Message: "hi there"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBuffer(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Intent != string(model.IntentChat) {
		t.Fatalf("intent = %q, want %q", resp.Intent, model.IntentChat)
	}
	if resp.Response == "" {
		t.Fatalf("expected a non-empty response")
	}
	// Pure chat never creates a session.
	if resp.SessionID != "" {
		t.Fatalf("session_id = %q, want empty for pure chat", resp.SessionID)
	}
}

func TestGetSession_Unknown_Returns404(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/session/00000000-0000-0000-0000-000000000000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetSession_InvalidID_Returns400(t *testing.T) {
	h, _ := newTestHandler()
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/session/not-a-uuid", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetSession_Known_ReturnsProjection(t *testing.T) {
	h, sessions := newTestHandler()
	router := newTestRouter(h)

	id := "11111111-1111-1111-1111-111111111111"
	sessions.Put(&model.SessionContext{SessionID: id, OriginalQuery: "metformin dosing"})

	req := httptest.NewRequest(http.MethodGet, "/session/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var sess model.SessionContext
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sess.OriginalQuery != "metformin dosing" {
		t.Fatalf("original_query = %q, want %q", sess.OriginalQuery, "metformin dosing")
	}
}

func TestDeleteSession_IsIdempotent(t *testing.T) {
	h, sessions := newTestHandler()
	router := newTestRouter(h)

	id := "22222222-2222-2222-2222-222222222222"
	sessions.Put(&model.SessionContext{SessionID: id})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/session/"+id, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("delete #%d status = %d, want 200", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/session/"+id, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", w.Code)
	}
}
