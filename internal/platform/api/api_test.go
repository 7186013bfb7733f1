package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]int{"n": 1})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	var body map[string]int
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["n"] != 1 {
		t.Fatalf("expected n=1, got %v", body)
	}
}

func TestBadRequest_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	BadRequest(rr, "VALIDATION_ERROR", "duration must be positive", "rid-1", map[string]any{"field": "duration"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "VALIDATION_ERROR" || resp.Error.RequestID != "rid-1" {
		t.Fatalf("unexpected error body: %+v", resp.Error)
	}
	if resp.Error.Details["field"] != "duration" {
		t.Fatalf("expected details.field=duration, got %v", resp.Error.Details)
	}
}

func TestInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	Internal(rr, "rid-2")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
