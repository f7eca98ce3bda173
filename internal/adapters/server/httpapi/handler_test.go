package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hylla/riskcast/internal/adapters/server/common"
	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/domain"
	"github.com/hylla/riskcast/internal/mitigation"
)

// stubRunReader provides deterministic stored-run responses for handler tests.
type stubRunReader struct {
	run         domain.Run
	rows        []domain.SummaryRow
	points      []domain.RankedPoint
	allocation  common.AllocationView
	err         error
	lastList    common.ListRunsRequest
	lastRanked  common.RankedRequest
	lastRunID   string
	listInvoked bool
}

// ListRuns records the request and returns the fixture run.
func (s *stubRunReader) ListRuns(_ context.Context, req common.ListRunsRequest) (common.RunList, error) {
	s.lastList = req
	s.listInvoked = true
	if s.err != nil {
		return common.RunList{}, s.err
	}
	return common.RunList{Runs: []domain.Run{s.run}, Limit: req.Limit}, nil
}

// GetRun records the id and returns the fixture run.
func (s *stubRunReader) GetRun(_ context.Context, runID string) (common.RunDetail, error) {
	s.lastRunID = runID
	if s.err != nil {
		return common.RunDetail{}, s.err
	}
	return common.RunDetail{Run: s.run, Diagnostics: []domain.Diagnostic{}}, nil
}

// SummaryRows returns the fixture rows.
func (s *stubRunReader) SummaryRows(_ context.Context, runID string) ([]domain.SummaryRow, error) {
	s.lastRunID = runID
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

// RankedImpacts records the request and returns the fixture points.
func (s *stubRunReader) RankedImpacts(_ context.Context, req common.RankedRequest) ([]domain.RankedPoint, error) {
	s.lastRanked = req
	if s.err != nil {
		return nil, s.err
	}
	return s.points, nil
}

// Allocation returns the fixture allocation.
func (s *stubRunReader) Allocation(_ context.Context, runID string) (common.AllocationView, error) {
	s.lastRunID = runID
	if s.err != nil {
		return common.AllocationView{}, s.err
	}
	return s.allocation, nil
}

// Snapshot returns a snapshot assembled from fixtures.
func (s *stubRunReader) Snapshot(_ context.Context, runID string) (app.Snapshot, error) {
	s.lastRunID = runID
	if s.err != nil {
		return app.Snapshot{}, s.err
	}
	return app.Snapshot{Version: app.SnapshotVersion, Run: s.run, Summary: s.rows, Ranked: s.points}, nil
}

func newStub() *stubRunReader {
	return &stubRunReader{
		run: domain.Run{ID: "run-1", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Baseline: 100},
		rows: []domain.SummaryRow{
			{ActivityID: 1, RiskID: "R1", Impact: 10},
		},
		points: []domain.RankedPoint{
			{Label: "R1 @ 1", Value: 10, Low: 5, High: 15},
		},
		allocation: common.AllocationView{
			RunID:  "run-1",
			Status: string(mitigation.StatusOptimal),
			Items:  []mitigation.AllocationItem{{RiskID: "R1", Level: 5, Spend: 50}},
		},
	}
}

// serve sends one GET through the handler.
func serve(t *testing.T, handler http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestHandlerListRuns verifies listing and limit parsing.
func TestHandlerListRuns(t *testing.T) {
	stub := newStub()
	rec := serve(t, NewHandler(stub), http.MethodGet, "/runs?limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got common.RunList
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got.Runs) != 1 || got.Runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs %#v", got)
	}
	if stub.lastList.Limit != 5 {
		t.Fatalf("limit = %d, want 5", stub.lastList.Limit)
	}
}

// TestHandlerRunResources verifies every per-run route reaches its reader method.
func TestHandlerRunResources(t *testing.T) {
	cases := []struct {
		target string
		check  func(t *testing.T, body map[string]any)
	}{
		{
			target: "/runs/run-1",
			check: func(t *testing.T, body map[string]any) {
				run, _ := body["run"].(map[string]any)
				if run["id"] != "run-1" {
					t.Fatalf("unexpected run payload %#v", body)
				}
			},
		},
		{
			target: "/runs/run-1/summary",
			check: func(t *testing.T, body map[string]any) {
				rows, _ := body["rows"].([]any)
				if len(rows) != 1 {
					t.Fatalf("unexpected summary payload %#v", body)
				}
			},
		},
		{
			target: "/runs/run-1/ranked/",
			check: func(t *testing.T, body map[string]any) {
				points, _ := body["points"].([]any)
				if len(points) != 1 {
					t.Fatalf("unexpected ranked payload %#v", body)
				}
			},
		},
		{
			target: "/runs/run-1/allocations",
			check: func(t *testing.T, body map[string]any) {
				if body["status"] != "optimal" {
					t.Fatalf("unexpected allocation payload %#v", body)
				}
			},
		},
		{
			target: "/runs/run-1/snapshot",
			check: func(t *testing.T, body map[string]any) {
				if body["version"] != app.SnapshotVersion {
					t.Fatalf("unexpected snapshot payload %#v", body)
				}
			},
		},
	}
	for _, tt := range cases {
		t.Run(tt.target, func(t *testing.T) {
			stub := newStub()
			rec := serve(t, NewHandler(stub), http.MethodGet, tt.target)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			tt.check(t, body)
		})
	}
}

// TestHandlerRankedLimit verifies the ranked limit is forwarded.
func TestHandlerRankedLimit(t *testing.T) {
	stub := newStub()
	rec := serve(t, NewHandler(stub), http.MethodGet, "/runs/run-1/ranked?limit=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if stub.lastRanked.RunID != "run-1" || stub.lastRanked.Limit != 3 {
		t.Fatalf("unexpected ranked request %#v", stub.lastRanked)
	}
}

// TestHandlerErrorMapping verifies structured status mapping for reader errors.
func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid request",
			err:        errors.Join(common.ErrInvalidRequest, errors.New("bad input")),
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "not found",
			err:        errors.Join(common.ErrNotFound, errors.New("missing")),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "unavailable",
			err:        common.ErrUnavailable,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "service_unavailable",
		},
		{
			name:       "internal error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStub()
			stub.err = tt.err
			rec := serve(t, NewHandler(stub), http.MethodGet, "/runs/run-1")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var envelope ErrorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if envelope.Error.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", envelope.Error.Code, tt.wantCode)
			}
		})
	}
}

// TestHandlerRejectsBadRequests verifies routing, method, and query failures.
func TestHandlerRejectsBadRequests(t *testing.T) {
	stub := newStub()
	handler := NewHandler(stub)

	if rec := serve(t, handler, http.MethodPost, "/runs"); rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("expected 405 with Allow header, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
	if rec := serve(t, handler, http.MethodGet, "/runs?limit=lots"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
	if stub.listInvoked {
		t.Fatal("expected reader not called for malformed limit")
	}
	for _, target := range []string{"/unknown", "/runs/run-1/other", "/runs/run-1/a/b", "/runs//summary"} {
		if rec := serve(t, handler, http.MethodGet, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
	if rec := serve(t, NewHandler(nil), http.MethodGet, "/runs"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without reader, got %d", rec.Code)
	}
}
