package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"turntable/internal/api"
)

// apiClient is a thin wrapper over the daemon's HTTP surface.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// apiError is a classified failure returned by the daemon.
type apiError struct {
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return e.Kind + ": " + e.Message
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reach daemon at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wrapped struct {
			Error api.ErrorBody `json:"error"`
		}
		if jsonErr := json.Unmarshal(raw, &wrapped); jsonErr == nil && wrapped.Error.Kind != "" {
			return &apiError{Kind: wrapped.Error.Kind, Message: wrapped.Error.Message}
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *apiClient) Submit(ctx context.Context, videoPath string, frames int, removeBackground bool) (api.UploadResponse, error) {
	var resp api.UploadResponse

	data, err := readFile(videoPath)
	if err != nil {
		return resp, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("frames", strconv.Itoa(frames)); err != nil {
		return resp, err
	}
	if err := writer.WriteField("remove_background", strconv.FormatBool(removeBackground)); err != nil {
		return resp, err
	}
	part, err := writer.CreateFormFile("file", filepath.Base(videoPath))
	if err != nil {
		return resp, err
	}
	if _, err := part.Write(data); err != nil {
		return resp, err
	}
	if err := writer.Close(); err != nil {
		return resp, err
	}

	err = c.do(ctx, http.MethodPost, "/api/v1/videos", &body, writer.FormDataContentType(), &resp)
	return resp, err
}

func (c *apiClient) Status(ctx context.Context, taskID string) (api.StatusResponse, error) {
	var resp api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/videos/"+taskID, nil, "", &resp)
	return resp, err
}

func (c *apiClient) Result(ctx context.Context, taskID string) (api.ResultResponse, error) {
	var resp api.ResultResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/videos/"+taskID+"/result", nil, "", &resp)
	return resp, err
}

func (c *apiClient) Jobs(ctx context.Context, status string) (api.ListResponse, error) {
	var resp api.ListResponse
	path := "/api/v1/videos"
	if status != "" {
		path += "?status=" + status
	}
	err := c.do(ctx, http.MethodGet, path, nil, "", &resp)
	return resp, err
}

func (c *apiClient) Delete(ctx context.Context, taskID string) (api.DeleteResponse, error) {
	var resp api.DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/videos/"+taskID, nil, "", &resp)
	return resp, err
}

// Health decodes the body regardless of status code: a degraded daemon
// answers 503 with the same payload shape.
func (c *apiClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return resp, err
	}
	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, fmt.Errorf("reach daemon at %s: %w", c.base, err)
	}
	defer httpResp.Body.Close()
	err = json.NewDecoder(httpResp.Body).Decode(&resp)
	return resp, err
}
