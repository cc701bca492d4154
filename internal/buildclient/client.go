// Package buildclient talks to the remote build API that PercyCore reports
// snapshots to. spec.md treats this collaborator as opaque but consumed; we
// give it a concrete implementation, grounded on the teacher's
// storage.Uploader interface/impl split (internal/storage), so the module is
// runnable end-to-end.
package buildclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/percyio/percy-core/internal/percy"
)

// Client is the remote build API surface PercyCore depends on.
type Client interface {
	CreateBuild(ctx context.Context) (percy.Build, error)
	// UploadResource uploads a resource's body by sha, independently of the
	// snapshot metadata CreateSnapshot sends (spec §6: "each resource is
	// {id=sha, attributes:{...}} and bodies are uploaded by sha separately").
	UploadResource(ctx context.Context, sha string, content []byte, mimetype string) error
	CreateSnapshot(ctx context.Context, buildID, name string, widths []int, resources []percy.Resource) (string, error)
	FinalizeBuild(ctx context.Context, buildID string) error
}

// httpClient is the real Client implementation over net/http, retrying
// transient (5xx, network) failures with exponential backoff and failing
// fast on 4xx, per spec §7.
type httpClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger

	maxRetries uint64
}

// NewHTTPClient creates a Client against baseURL, authenticating with token.
func NewHTTPClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		baseURL:    baseURL,
		token:      token,
		http:       &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "buildclient").Logger(),
		maxRetries: 4, // one attempt plus 4 retries: at most 5 attempts
	}
}

type resourceAttributes struct {
	ResourceURL string `json:"resource-url"`
	Mimetype    string `json:"mimetype"`
	IsRoot      bool   `json:"is-root"`
}

type wireResource struct {
	ID         string             `json:"id"`
	Attributes resourceAttributes `json:"attributes"`
}

type createSnapshotRequest struct {
	Name      string         `json:"name"`
	Widths    []int          `json:"widths"`
	Resources []wireResource `json:"resources"`
}

func (c *httpClient) CreateBuild(ctx context.Context) (percy.Build, error) {
	var build percy.Build
	err := c.doRetryable(ctx, func() error {
		return c.postJSON(ctx, "/builds", nil, &build)
	})
	if err != nil {
		return percy.Build{}, fmt.Errorf("%w: create build: %v", percy.ErrAPI, err)
	}
	return build, nil
}

func (c *httpClient) CreateSnapshot(ctx context.Context, buildID, name string, widths []int, resources []percy.Resource) (string, error) {
	req := createSnapshotRequest{Name: name, Widths: widths}
	for _, r := range resources {
		req.Resources = append(req.Resources, wireResource{
			ID: r.SHA,
			Attributes: resourceAttributes{
				ResourceURL: r.URL,
				Mimetype:    r.Mimetype,
				IsRoot:      r.Root,
			},
		})
	}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/builds/%s/snapshots", buildID)
	err := c.doRetryable(ctx, func() error {
		return c.postJSON(ctx, path, req, &resp)
	})
	if err != nil {
		return "", fmt.Errorf("%w: create snapshot %q: %v", percy.ErrAPI, name, err)
	}
	return resp.ID, nil
}

func (c *httpClient) UploadResource(ctx context.Context, sha string, content []byte, mimetype string) error {
	path := fmt.Sprintf("/resources/%s", sha)
	err := c.doRetryable(ctx, func() error {
		return c.putBody(ctx, path, content, mimetype)
	})
	if err != nil {
		return fmt.Errorf("%w: upload resource %q: %v", percy.ErrAPI, sha, err)
	}
	return nil
}

func (c *httpClient) FinalizeBuild(ctx context.Context, buildID string) error {
	path := fmt.Sprintf("/builds/%s/finalize", buildID)
	err := c.doRetryable(ctx, func() error {
		return c.postJSON(ctx, path, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: finalize build %q: %v", percy.ErrAPI, buildID, err)
	}
	return nil
}

// doRetryable retries op up to maxRetries times with exponential backoff,
// for anything marked retryable by postJSON (5xx, network errors). 4xx
// responses are wrapped in backoff.Permanent by postJSON and stop retrying
// immediately.
func (c *httpClient) doRetryable(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		c.log.Debug().Err(err).Dur("wait", wait).Msg("retrying build API call")
	})
}

func (c *httpClient) postJSON(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token token="+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err // network error: retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("client error: status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// putBody uploads content as the raw request body, used for resource bodies
// rather than JSON-encoded metadata.
func (c *httpClient) putBody(ctx context.Context, path string, content []byte, mimetype string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(content))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if mimetype != "" {
		req.Header.Set("Content-Type", mimetype)
	}
	req.Header.Set("Authorization", "Token token="+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err // network error: retryable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("client error: status %d", resp.StatusCode))
	}
	return nil
}
