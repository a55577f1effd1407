package service

import (
	"context"
	"encoding/json"
	"mmrl/pkg/protocol"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIStatus(t *testing.T) {
	h, _ := newTestHost(t, HostConfig{})
	api := NewAPIServer(h, "127.0.0.1:0", quiet)

	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["backend"] != "Magisk" || status["platform"] != "Magisk" {
		t.Errorf("status = %v", status)
	}
}

func TestAPIGrantFlow(t *testing.T) {
	h, _ := newTestHost(t, HostConfig{})
	handler := NewAPIServer(h, "127.0.0.1:0", quiet).Handler()

	result := make(chan Decision, 1)
	go func() {
		result <- h.Grants().Enqueue(context.Background(), &protocol.Hello{Client: "app", Identity: protocol.Identity{UID: 10001}})
	}()
	id := waitPending(t, h.Grants(), 1)[0].ID

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/grants", nil))
	var listed []PendingGrant
	json.NewDecoder(rec.Body).Decode(&listed)
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("listed = %+v", listed)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/grants/"+id+"/approve", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET approve = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/grants/"+id+"/approve", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d", rec.Code)
	}
	if d := <-result; d != DecisionApprove {
		t.Errorf("decision = %v", d)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/grants/"+id+"/deny", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("resolving twice = %d, want 404", rec.Code)
	}
}

func TestAPIHistoryEmpty(t *testing.T) {
	h, _ := newTestHost(t, HostConfig{})
	rec := httptest.NewRecorder()
	NewAPIServer(h, "127.0.0.1:0", quiet).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Errorf("history = %d %q", rec.Code, rec.Body.String())
	}
}
