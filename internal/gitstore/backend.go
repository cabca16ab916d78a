package gitstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/houston-cloud/houston/internal/fault"
	"github.com/pkg/errors"
)

// Project is a remote repository project on the git host.
type Project struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	TagList       []string `json:"tag_list"`
	HTTPURLToRepo string   `json:"http_url_to_repo"`
}

// Backend is the remote repository host's projects API. Implementations
// must be idempotent: EnsureProject returns the existing project
// unchanged, DeleteProjectByName tolerates a missing project.
type Backend interface {
	GetProject(ctx context.Context, name string) (*Project, error)
	EnsureProject(ctx context.Context, name, majorType, description string, tags []string) (*Project, error)
	DeleteProjectByName(ctx context.Context, name string) error
}

// HTTPBackend talks to a GitLab-style projects API.
type HTTPBackend struct {
	base      string
	token     string
	namespace string
	client    *http.Client
}

// NewHTTPBackend configures a backend for the given host. The token is
// sent as PRIVATE-TOKEN on every request.
func NewHTTPBackend(base, token, namespace string) *HTTPBackend {
	return &HTTPBackend{
		base:      strings.TrimRight(base, "/"),
		token:     token,
		namespace: namespace,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *HTTPBackend) projectPath(name string) string {
	return url.PathEscape(b.namespace + "/" + name)
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", b.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fault.NewTransient("git host request", err)
	}
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fault.NewTransient(
			"git host request",
			fmt.Errorf("%v %v: status %v", method, path, resp.StatusCode))
	}

	return resp, nil
}

func (b *HTTPBackend) GetProject(ctx context.Context, name string) (*Project, error) {
	resp, err := b.do(ctx, http.MethodGet, "/api/v4/projects/"+b.projectPath(name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		project := &Project{}
		return project, json.NewDecoder(resp.Body).Decode(project)
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, errors.Errorf("get project %v: status %v", name, resp.StatusCode)
	}
}

func (b *HTTPBackend) EnsureProject(ctx context.Context, name, majorType, description string, tags []string) (*Project, error) {
	if project, err := b.GetProject(ctx, name); err != nil || project != nil {
		return project, err
	}

	resp, err := b.do(ctx, http.MethodPost, "/api/v4/projects", map[string]interface{}{
		"name":        name,
		"description": description,
		"tag_list":    append([]string{majorType}, tags...),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		project := &Project{}
		return project, json.NewDecoder(resp.Body).Decode(project)
	case http.StatusConflict, http.StatusBadRequest:
		// lost the create race against a concurrent ensure
		project, err := b.GetProject(ctx, name)
		if err != nil {
			return nil, err
		}
		if project == nil {
			return nil, errors.Errorf("create project %v: status %v", name, resp.StatusCode)
		}
		return project, nil
	default:
		return nil, errors.Errorf("create project %v: status %v", name, resp.StatusCode)
	}
}

func (b *HTTPBackend) DeleteProjectByName(ctx context.Context, name string) error {
	resp, err := b.do(ctx, http.MethodDelete, "/api/v4/projects/"+b.projectPath(name), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return errors.Errorf("delete project %v: status %v", name, resp.StatusCode)
	}
}
