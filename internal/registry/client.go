// Package registry is the wire-level adapter to a v2 content-addressable
// image registry (spec.md §4.1). It generalizes
// adisaputra10-docker-registry-dashboard's internal/registry/client.go from
// a single hardcoded host to an injectable client, adds Link-header
// pagination across multiple header segments, and widens the manifest
// Accept header to the full multi-media-type list spec.md requires.
package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// acceptManifestTypes is the Accept header advertised on manifest fetches,
// in the order spec.md §4.1 lists them.
var acceptManifestTypes = strings.Join([]string{
	"application/vnd.docker.distribution.manifest.v2+json",
	"application/vnd.docker.distribution.manifest.list.v2+json",
	"application/vnd.oci.image.index.v1+json",
	"application/vnd.docker.distribution.manifest.v1+prettyjws",
	"application/vnd.oci.image.manifest.v1+json",
	"application/json",
}, ", ")

// UnavailableError reports that the registry failed its v2 API probe at
// construction time (spec.md §7 RegistryUnavailable).
type UnavailableError struct {
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registry unavailable: %v", e.Err)
	}
	return fmt.Sprintf("registry unavailable: unexpected status %d on GET /v2", e.StatusCode)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Error reports a non-2xx response from a list operation that is not one
// of the two statuses the client tolerates (spec.md §7 RegistryError).
type Error struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry error on %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client talks to one v2 registry host. Its only state is its configured
// http.Client and optional rate limiter, both safe for concurrent use, so a
// single Client is safe to share across concurrent callers (spec.md §4.1,
// §5) — R never retries on its own.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithBasicAuth sets registry credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) { c.username, c.password = username, password }
}

// WithInsecureSkipVerify disables TLS certificate verification, for
// registries running with self-signed certs.
func WithInsecureSkipVerify() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
}

// WithTimeout overrides the default 30s per-request timeout (spec.md §5).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRateLimit throttles outbound requests to rps per second with the
// given burst, the same token-bucket shape bpfman-purger uses to keep a
// bounded-concurrency fanout from hammering the API server. Every call
// through do() waits on the limiter before issuing its request.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New constructs a Client for baseURL (e.g. "https://registry.example.com")
// without probing it. Call Probe to confirm v2 API availability.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe issues GET /v2 and fails with UnavailableError unless the registry
// answers 200 (spec.md §4.1).
func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.do(ctx, "GET", "/v2", nil)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &UnavailableError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	// An absolute URL (e.g. from a Link header) is reduced to its path and
	// query, so every request goes to this client's own registry host.
	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		path = u.RequestURI()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpClient.Do(req)
}

type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

// ListRepositories returns every repository path in the registry,
// following Link: ...; rel="next" pagination until exhausted (spec.md
// §4.1, §8 scenario 6). A 404 or 400 is treated as "no (more)
// repositories": the listing stops and returns what it has collected so
// far, without logging anything.
func (c *Client) ListRepositories(ctx context.Context) ([]string, error) {
	var all []string
	next := "/v2/_catalog?n=100"

	for next != "" {
		if strings.HasPrefix(next, c.baseURL) {
			next = strings.TrimPrefix(next, c.baseURL)
		}

		resp, err := c.do(ctx, "GET", next, nil)
		if err != nil {
			return nil, fmt.Errorf("list repositories: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var page catalogResponse
			err := json.NewDecoder(resp.Body).Decode(&page)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("decode catalog page: %w", err)
			}
			all = append(all, page.Repositories...)
		case http.StatusNotFound, http.StatusBadRequest:
			resp.Body.Close()
			return all, nil
		default:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &Error{Op: "list repositories", StatusCode: resp.StatusCode, Body: string(body)}
		}

		next = nextLink(resp.Header.Get("Link"))
	}

	return all, nil
}

type tagsResponse struct {
	Tags []string `json:"tags"`
}

// ListTags returns every tag in repo, following Link pagination the same
// way ListRepositories does.
func (c *Client) ListTags(ctx context.Context, repo string) ([]string, error) {
	var all []string
	next := fmt.Sprintf("/v2/%s/tags/list?n=100", repo)

	for next != "" {
		if strings.HasPrefix(next, c.baseURL) {
			next = strings.TrimPrefix(next, c.baseURL)
		}

		resp, err := c.do(ctx, "GET", next, nil)
		if err != nil {
			return nil, fmt.Errorf("list tags for %s: %w", repo, err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var page tagsResponse
			err := json.NewDecoder(resp.Body).Decode(&page)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("decode tags page for %s: %w", repo, err)
			}
			all = append(all, page.Tags...)
		case http.StatusNotFound, http.StatusBadRequest:
			resp.Body.Close()
			return all, nil
		default:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &Error{Op: fmt.Sprintf("list tags for %s", repo), StatusCode: resp.StatusCode, Body: string(body)}
		}

		next = nextLink(resp.Header.Get("Link"))
	}

	return all, nil
}

// Manifest is the result of GetManifest: enough to decide health and, for
// the eviction path, recover the image's creation timestamp.
type Manifest struct {
	Digest    string
	Body      []byte
	MediaType string
}

// GetManifest fetches the manifest for repo:reference (reference may be a
// tag or a digest). On any non-2xx response it returns a zero Manifest and
// a nil error — spec.md §4.1 leaves the fault/non-fault decision to the
// caller (Auditor or Evictor).
func (c *Client) GetManifest(ctx context.Context, repo, reference string) (Manifest, error) {
	path := fmt.Sprintf("/v2/%s/manifests/%s", repo, reference)
	resp, err := c.do(ctx, "GET", path, map[string]string{"Accept": acceptManifestTypes})
	if err != nil {
		return Manifest{}, fmt.Errorf("get manifest %s/%s: %w", repo, reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Manifest{}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest body %s/%s: %w", repo, reference, err)
	}

	return Manifest{
		Digest:    resp.Header.Get("Docker-Content-Digest"),
		Body:      body,
		MediaType: resp.Header.Get("Content-Type"),
	}, nil
}

// DeleteManifest deletes the manifest identified by digest in repo.
// Non-{200,202} responses are not treated as fatal — the caller logs a
// warning and continues (spec.md §4.1, §7 DeletionFailed).
func (c *Client) DeleteManifest(ctx context.Context, repo, digest string) error {
	path := fmt.Sprintf("/v2/%s/manifests/%s", repo, digest)
	resp, err := c.do(ctx, "DELETE", path, nil)
	if err != nil {
		return fmt.Errorf("delete manifest %s/%s: %w", repo, digest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return &Error{Op: fmt.Sprintf("delete manifest %s/%s", repo, digest), StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// nextLink extracts the URL from a `<url>; rel="next"` Link header value
// (possibly one of several comma-separated link-values), or returns "" if
// there is no next page.
func nextLink(link string) string {
	if link == "" {
		return ""
	}
	for _, part := range strings.Split(link, ",") {
		segs := strings.SplitN(part, ";", 2)
		if len(segs) != 2 {
			continue
		}
		if !strings.Contains(segs[1], `rel="next"`) {
			continue
		}
		return strings.Trim(strings.TrimSpace(segs[0]), "<>")
	}
	return ""
}
