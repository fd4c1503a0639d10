package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockClientPlayback(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(200, "first").
		AddError(errors.New("boom")).
		AddResponse(503, "busy")

	req, _ := http.NewRequest(http.MethodGet, "http://example.test/feed", nil)

	resp, err := mock.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(body) != "first" {
		t.Errorf("first response: %d %q", resp.StatusCode, body)
	}

	if _, err := mock.Do(req); err == nil {
		t.Error("expected queued error")
	}

	resp, err = mock.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("third response: %d", resp.StatusCode)
	}

	if len(mock.Requests) != 3 {
		t.Errorf("recorded %d requests, want 3", len(mock.Requests))
	}
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "no such event")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "no such event" {
		t.Errorf("error message = %q", body["error"])
	}
}
