package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cleanwave/internal/llm"
	"cleanwave/internal/model"

	"github.com/gin-gonic/gin"
)

func TestGeneratePost_OrganizerOnly(t *testing.T) {
	s, _, gen := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, s.db, "vol@example.com", model.RoleVolunteer)
	event := createEvent(t, s.db, organizer.ID, 10)

	r := gin.New()
	asUser(r, http.MethodPost, "/vol/events/:id/generate-post", volunteer.ID, model.RoleVolunteer, s.handleGeneratePost)
	asUser(r, http.MethodPost, "/org/events/:id/generate-post", organizer.ID, model.RoleOrganizer, s.handleGeneratePost)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/vol/events/"+itoa(event.ID)+"/generate-post", nil))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-organizer, got %d", w.Code)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not be called on forbidden request")
	}

	gen.text = "Join us at the pier!"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/org/events/"+itoa(event.ID)+"/generate-post", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Post string `json:"post"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Post != "Join us at the pier!" {
		t.Fatalf("unexpected post: %q", resp.Post)
	}

	// 提示词带上活动数据与采样参数
	if !strings.Contains(gen.lastReq.Prompt, "Riverbank Cleanup") {
		t.Fatalf("prompt missing event title: %s", gen.lastReq.Prompt)
	}
	if gen.lastReq.Temperature != 0.7 || gen.lastReq.MaxTokens != 200 {
		t.Fatalf("unexpected sampling parameters: %+v", gen.lastReq)
	}
}

func TestAskEcoBot_ContextAndFailure(t *testing.T) {
	s, _, gen := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	volunteer := createUser(t, s.db, "vol@example.com", model.RoleVolunteer)
	event := createEvent(t, s.db, organizer.ID, 10)

	r := gin.New()
	asUser(r, http.MethodPost, "/events/:id/ask-ecobot", volunteer.ID, model.RoleVolunteer, s.handleAskEcoBot)

	ask := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/events/"+itoa(event.ID)+"/ask-ecobot", bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// 缺少 question
	if w := ask(`{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without question, got %d", w.Code)
	}

	gen.text = "Bring gloves and bags."
	w := ask(`{"question":"what should I bring?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(gen.lastReq.Prompt, "gloves, bags") {
		t.Fatalf("prompt missing what_to_bring context: %s", gen.lastReq.Prompt)
	}
	if !strings.Contains(gen.lastReq.Prompt, "what should I bring?") {
		t.Fatalf("prompt missing user question: %s", gen.lastReq.Prompt)
	}
	if gen.lastReq.Temperature != 0.3 || gen.lastReq.MaxTokens != 500 {
		t.Fatalf("unexpected sampling parameters: %+v", gen.lastReq)
	}

	// 供方失败映射为 502
	gen.err = llm.ErrGeneration
	if w := ask(`{"question":"anything"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on generation failure, got %d", w.Code)
	}
}

func TestGeneratePost_GenerationFailureMapsTo502(t *testing.T) {
	s, _, gen := newTestServer(t)
	organizer := createUser(t, s.db, "org@example.com", model.RoleOrganizer)
	event := createEvent(t, s.db, organizer.ID, 10)

	gen.err = llm.ErrGeneration

	r := gin.New()
	asUser(r, http.MethodPost, "/events/:id/generate-post", organizer.ID, model.RoleOrganizer, s.handleGeneratePost)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/events/"+itoa(event.ID)+"/generate-post", nil))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

// 未配置 Redis 时限流器为 nil，Acquire 直接放行。
func TestAcquireAIToken_NilLimiterPassesThrough(t *testing.T) {
	s, _, _ := newTestServer(t)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil).WithContext(context.Background())
	if !s.acquireAIToken(c) {
		t.Fatal("nil limiter must pass through")
	}
}
