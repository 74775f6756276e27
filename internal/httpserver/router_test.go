package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/service"
)

type fakeLister struct {
	got service.ListRequest
	err error
}

func (f *fakeLister) List(_ context.Context, req service.ListRequest) (service.Summary, error) {
	f.got = req
	return service.Summary{Found: 2, Sent: 2}, f.err
}

type fakeScanner struct {
	got service.ScanRequest
}

func (f *fakeScanner) Scan(_ context.Context, req service.ScanRequest) (service.Summary, error) {
	f.got = req
	return service.Summary{Found: req.Count, Sent: req.Count}, nil
}

func newTestRouter(l *fakeLister, s *fakeScanner, checks map[string]ReadinessCheck) *Router {
	gin.SetMode(gin.TestMode)
	return NewRouter(NewTriggerHandler(l, s, zap.NewNop()), checks)
}

func do(r *Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestListEmails(t *testing.T) {
	l := &fakeLister{}
	r := newTestRouter(l, &fakeScanner{}, nil)

	w := do(r, http.MethodPost, "/v1/emails/list", `{"folder":"INBOX","from_filter":"a@b.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	if l.got.Folder != "INBOX" || l.got.FromFilter == nil || *l.got.FromFilter != "a@b.com" {
		t.Errorf("request = %+v", l.got)
	}
	var summary service.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil || summary.Sent != 2 {
		t.Errorf("summary = %s (%v)", w.Body, err)
	}
}

func TestListEmailsEmptyBodyUsesDefaults(t *testing.T) {
	l := &fakeLister{}
	r := newTestRouter(l, &fakeScanner{}, nil)

	if w := do(r, http.MethodPost, "/v1/emails/list", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if l.got.Folder != "" || l.got.FromFilter != nil {
		t.Errorf("request = %+v, want zero value", l.got)
	}
}

func TestListEmailsErrors(t *testing.T) {
	r := newTestRouter(&fakeLister{err: errors.New("imap down")}, &fakeScanner{}, nil)

	if w := do(r, http.MethodPost, "/v1/emails/list", "{"); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/emails/list", "{}"); w.Code != http.StatusBadGateway {
		t.Errorf("producer error status = %d", w.Code)
	}
}

func TestScanEmails(t *testing.T) {
	s := &fakeScanner{}
	r := newTestRouter(&fakeLister{}, s, nil)

	if w := do(r, http.MethodPost, "/v1/emails/scan", `{"count":5}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if s.got.Count != 5 {
		t.Errorf("count = %d", s.got.Count)
	}
	if w := do(r, http.MethodPost, "/v1/emails/scan", `{"count":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative count status = %d", w.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	checks := map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"rabbitmq": func(context.Context) error { return errors.New("not connected") },
	}
	r := newTestRouter(&fakeLister{}, &fakeScanner{}, checks)

	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w := do(r, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "not connected") {
		t.Errorf("readyz = %d %s", w.Code, w.Body)
	}
	if w := do(r, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}
}
