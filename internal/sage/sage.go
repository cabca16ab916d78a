// Package sage is the passthrough client to the external
// detection/identification service. Submission is asynchronous on the
// sage side; results arrive later on the callback URL carried in the
// request.
package sage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/houston-cloud/houston/internal/fault"
)

// DetectionRequest is the payload of a job.detect_request passthrough.
type DetectionRequest struct {
	Endpoint      string                 `json:"endpoint"`
	JobID         string                 `json:"jobid"`
	CallbackURL   string                 `json:"callback_url"`
	ImageUUIDList []string               `json:"image_uuid_list"`
	Input         map[string]interface{} `json:"input,omitempty"`
}

// Response is sage's synchronous acknowledgment.
type Response struct {
	Success bool            `json:"success"`
	Status  string          `json:"status,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Client submits passthrough requests to sage.
type Client interface {
	DetectRequest(ctx context.Context, req *DetectionRequest) (*Response, error)
}

type client struct {
	base string
	http *http.Client
}

// New returns a client for the sage instance at base.
func New(base string) Client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewWithHTTPClient is New with an injected http client (tests).
func NewWithHTTPClient(base string, hc *http.Client) Client {
	return &client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *client) DetectRequest(ctx context.Context, req *DetectionRequest) (*Response, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.base+"/api/engine/detect", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fault.NewTransient("sage detect request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fault.NewTransient(
			"sage detect request",
			fmt.Errorf("status %v", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, fault.NewValidation("sage rejected detection request: status %v", resp.StatusCode)
	}

	out := &Response{}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fault.NewTransient("sage detect response", err)
	}
	if !out.Success {
		return nil, fault.NewValidation("sage refused detection request: %v", out.Status)
	}

	return out, nil
}
