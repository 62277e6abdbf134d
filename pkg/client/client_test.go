package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testRef() TaskRef {
	return TaskRef{Campaign: "2026A", Block: 3, Task: "reco", Database: "testdb"}
}

func TestJobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/api/v1/campaigns/2026A/blocks/3/tasks/reco/jobs"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if got := r.URL.Query().Get("db"); got != "testdb" {
			t.Errorf("db query param = %q, want testdb", got)
		}

		json.NewEncoder(w).Encode(map[string][]string{
			"IDLE":    {"0"},
			"RUNNING": {"1", "2"},
			"FAILED":  {},
			"DONE":    {"3"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	buckets, err := c.Jobs(context.Background(), testRef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(buckets["RUNNING"]) != 2 {
		t.Errorf("expected 2 running jobs, got %v", buckets["RUNNING"])
	}
	if len(buckets["DONE"]) != 1 || buckets["DONE"][0] != "3" {
		t.Errorf("unexpected done bucket: %v", buckets["DONE"])
	}
}

func TestJobLast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/api/v1/campaigns/2026A/blocks/3/tasks/reco/jobs/5"
		if r.URL.Path != wantPath {
			t.Errorf("path = %s, want %s", r.URL.Path, wantPath)
		}
		if r.URL.Query().Get("last") != "true" {
			t.Error("expected last=true query param")
		}

		json.NewEncoder(w).Encode([]Point{{
			Tags:   map[string]string{"id": "5"},
			Time:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Fields: map[string]interface{}{"DONE": 1.0},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	points, err := c.Job(context.Background(), testRef(), "5", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	if points[0].Tags["id"] != "5" {
		t.Errorf("unexpected tags: %v", points[0].Tags)
	}
}

func TestRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RetriesResponse{JobID: "5", Retries: 2})
	}))
	defer srv.Close()

	c := New(srv.URL)
	n, err := c.Retries(context.Background(), testRef(), "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 retries, got %d", n)
	}
}

func TestCompleted(t *testing.T) {
	end := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(CompletionResponse{Completed: true, EndTime: &end})
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Completed(context.Background(), testRef())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Completed {
		t.Error("expected completed task")
	}
	if resp.EndTime == nil || !resp.EndTime.Equal(end) {
		t.Errorf("unexpected end time: %v", resp.EndTime)
	}
}

func TestErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"job not found in task"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Jobs(context.Background(), testRef()); err == nil {
		t.Error("expected error on non-200 response")
	}
}
