package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"turntable/internal/api"
	"turntable/internal/queue"
)

func TestStepTitle(t *testing.T) {
	cases := map[queue.Step]string{
		queue.StepStabilizing:        "Stabilizing",
		queue.StepRemovingBackground: "Removing Background",
		queue.Step(""):               "-",
	}
	for step, want := range cases {
		if got := stepTitle(step); got != want {
			t.Fatalf("stepTitle(%q) = %q, want %q", step, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("short input should pass through, got %q", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable(
		[]string{"Task", "Progress"},
		[][]string{{"abcd1234", "30%"}, {"ffff0000", "100%"}},
		1,
	)
	if !strings.Contains(out, "Task") {
		t.Fatalf("headers must keep their casing, got:\n%s", out)
	}
	if !strings.Contains(out, " 30%") {
		t.Fatalf("numeric column should align right, got:\n%s", out)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("empty headers must render nothing")
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]api.ErrorBody{
			"error": {Kind: "NotFound", Message: "no such job"},
		})
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	_, err := client.Status(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected an error")
	}
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("expected *apiError, got %T: %v", err, err)
	}
	if apiErr.Kind != "NotFound" || !strings.Contains(apiErr.Message, "no such job") {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestJobsCommandRendersTable(t *testing.T) {
	created := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/videos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.ListResponse{Jobs: []api.JobSummary{{
			TaskID:     "11112222-3333-4444-5555-666677778888",
			Status:     queue.StatusProcessing,
			Step:       queue.StepDetecting,
			Progress:   30,
			FrameCount: 36,
			CreatedAt:  created,
		}}})
	}))
	defer server.Close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"jobs", "--server", server.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	rendered := out.String()
	for _, want := range []string{"11112222", "PROCESSING", "Detecting", "30%", "36"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("output missing %q:\n%s", want, rendered)
		}
	}
}

func TestSubmitRejectsBadFrameCountLocally(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"submit", "walkaround.mp4", "--frames", "30", "--server", "http://127.0.0.1:1"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "frames must be one of") {
		t.Fatalf("expected local frame validation error, got %v", err)
	}
}

func TestResultCommandPrintsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.ResultResponse{
			TaskID: "task-1",
			Status: queue.StatusFailure,
			Step:   queue.StepDetecting,
			Error:  &api.ErrorBody{Kind: "DetectionError", Message: "no vehicle found"},
		})
	}))
	defer server.Close()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"result", "task-1", "--server", server.URL})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	rendered := out.String()
	if !strings.Contains(rendered, "failed at Detecting") || !strings.Contains(rendered, "DetectionError") {
		t.Fatalf("unexpected output:\n%s", rendered)
	}
}
