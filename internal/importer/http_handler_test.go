package importer

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"

	"github.com/google/uuid"
)

func multipartUpload(t *testing.T, fileName, data string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to build upload: %v", err)
	}
	if _, err := part.Write([]byte(data)); err != nil {
		t.Fatalf("failed to build upload: %v", err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to build upload: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to build upload: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func waitForTerminal(t *testing.T, server *httptest.Server, id uuid.UUID) domain.Submission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(server.URL + "/api/submissions/" + id.String())
		if err != nil {
			t.Fatalf("get submission failed: %v", err)
		}
		var sub domain.Submission
		if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
			t.Fatalf("failed to decode submission: %v", err)
		}
		resp.Body.Close()
		if sub.Status.Terminal() || (sub.DryRun && sub.CompletedAt != nil) {
			return sub
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("submission %s did not finish", id)
	return domain.Submission{}
}

func newTestServer(t *testing.T) (*httptest.Server, *testHarness) {
	t.Helper()
	h := newTestHarness(t, Options{})
	router := NewRouter(h.service, NewRunner(h.service), nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, h
}

func TestHandleRegistry(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/registry")
	if err != nil {
		t.Fatalf("get registry failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var registry RegistryResponse
	if err := json.NewDecoder(resp.Body).Decode(&registry); err != nil {
		t.Fatalf("failed to decode registry: %v", err)
	}
	if len(registry.Types) != 4 {
		t.Fatalf("expected 4 type defs, got %d", len(registry.Types))
	}
	if count, ok := registry.Counts["Person"]; !ok || count != 0 {
		t.Fatalf("expected zero Person records, got %v", registry.Counts)
	}
}

func TestHandlePlan(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "people.csv",
		"Person.name,Membership.person.pk\nAda,\n", nil)

	resp, err := http.Post(server.URL+"/api/plan", contentType, body)
	if err != nil {
		t.Fatalf("post plan failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var plan Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		t.Fatalf("failed to decode plan: %v", err)
	}
	if len(plan.Order) != 2 || plan.Order[0] != "Person" {
		t.Fatalf("unexpected order: %v", plan.Order)
	}
}

func TestHandlePlanUnsupportedFormat(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "people.pdf", "junk", nil)
	resp, err := http.Post(server.URL+"/api/plan", contentType, body)
	if err != nil {
		t.Fatalf("post plan failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", resp.StatusCode)
	}
}

func TestSubmitProcessAndReport(t *testing.T) {
	server, h := newTestServer(t)

	body, contentType := multipartUpload(t, "people.csv",
		"Person.name,Person.email\nAda,ada@example.com\n", map[string]string{"mode": "create"})

	resp, err := http.Post(server.URL+"/api/submissions", contentType, body)
	if err != nil {
		t.Fatalf("post submission failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var sub domain.Submission
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		t.Fatalf("failed to decode submission: %v", err)
	}

	final := waitForTerminal(t, server, sub.ID)
	if final.Status != domain.StatusCommitted {
		t.Fatalf("expected committed, got %s", final.Status)
	}
	if h.records.countByType("Person") != 1 {
		t.Fatalf("record not committed")
	}

	reportResp, err := http.Get(server.URL + "/api/submissions/" + sub.ID.String() + "/report")
	if err != nil {
		t.Fatalf("get report failed: %v", err)
	}
	defer reportResp.Body.Close()
	if got := reportResp.Header.Get("Content-Type"); got != "text/csv" {
		t.Fatalf("expected csv report, got %s", got)
	}
	var csvBody bytes.Buffer
	if _, err := csvBody.ReadFrom(reportResp.Body); err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	if !strings.Contains(csvBody.String(), "created") {
		t.Fatalf("report missing outcome: %q", csvBody.String())
	}
}

func TestReverseEndpointErrors(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/submissions/"+uuid.NewString()+"/reverse", "application/json", nil)
	if err != nil {
		t.Fatalf("post reverse failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown submission, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/api/submissions/not-a-uuid/reverse", "application/json", nil)
	if err != nil {
		t.Fatalf("post reverse failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestCancelUnknownSubmission(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Post(server.URL+"/api/submissions/"+uuid.NewString()+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("post cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for idle submission, got %d", resp.StatusCode)
	}
}
