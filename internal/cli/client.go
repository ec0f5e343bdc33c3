package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/importer"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

// Client talks to a running import server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func addServerFlag(cmd *cobra.Command) *string {
	def := defaultServer
	if env := os.Getenv("IMPORTER_SERVER"); env != "" {
		def = env
	}
	return cmd.Flags().String("server", def, "base URL of the import server")
}

// Plan uploads a file and returns the column mapping and processing order
// without creating a submission.
func (c *Client) Plan(path string) (importer.Plan, error) {
	var plan importer.Plan
	resp, err := c.upload("/api/plan", path, nil)
	if err != nil {
		return plan, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return plan, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return plan, fmt.Errorf("failed to decode plan: %w", err)
	}
	return plan, nil
}

// Submit uploads a file and starts a submission.
func (c *Client) Submit(path string, mode domain.Mode, dryRun bool) (domain.Submission, error) {
	var sub domain.Submission
	fields := map[string]string{"mode": string(mode)}
	if dryRun {
		fields["dryRun"] = "true"
	}
	resp, err := c.upload("/api/submissions", path, fields)
	if err != nil {
		return sub, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusAccepted); err != nil {
		return sub, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return sub, fmt.Errorf("failed to decode submission: %w", err)
	}
	return sub, nil
}

// Submission fetches one submission by id.
func (c *Client) Submission(id uuid.UUID) (domain.Submission, error) {
	var sub domain.Submission
	err := c.getJSON("/api/submissions/"+id.String(), &sub)
	return sub, err
}

// Submissions lists recent submissions.
func (c *Client) Submissions() ([]domain.Submission, error) {
	var subs []domain.Submission
	err := c.getJSON("/api/submissions/", &subs)
	return subs, err
}

// Report streams the CSV detail report for a submission to w.
func (c *Client) Report(id uuid.UUID, w io.Writer) error {
	resp, err := c.http.Get(c.baseURL + "/api/submissions/" + id.String() + "/report")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}
	return nil
}

// Reverse undoes a committed submission.
func (c *Client) Reverse(id uuid.UUID) (importer.ReversalResult, error) {
	var result importer.ReversalResult
	resp, err := c.http.Post(c.baseURL+"/api/submissions/"+id.String()+"/reverse", "application/json", nil)
	if err != nil {
		return result, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return result, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("failed to decode reversal result: %w", err)
	}
	return result, nil
}

// Cancel stops a running submission.
func (c *Client) Cancel(id uuid.UUID) error {
	resp, err := c.http.Post(c.baseURL+"/api/submissions/"+id.String()+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusAccepted)
}

// Registry fetches the server's record type catalog and per-type totals.
func (c *Client) Registry() (importer.RegistryResponse, error) {
	var registry importer.RegistryResponse
	err := c.getJSON("/api/registry", &registry)
	return registry, err
}

func (c *Client) upload(route, path string, fields map[string]string) (*http.Response, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	resp, err := c.http.Post(c.baseURL+route, writer.FormDataContentType(), &body)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) getJSON(route string, out any) error {
	resp, err := c.http.Get(c.baseURL + route)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(detail))
}
