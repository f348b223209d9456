package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestListRepositoriesFollowsPagination(t *testing.T) {
	pages := [][]string{
		{"alpha", "beta"},
		{"gamma"},
	}
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/_catalog" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		page := pages[calls]
		calls++
		if calls < len(pages) {
			w.Header().Set("Link", fmt.Sprintf(`<%s/v2/_catalog?n=100&last=x>; rel="next"`, "http://ignored"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(catalogResponse{Repositories: page})
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories: %v", err)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestListRepositoriesNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestListRepositoriesServerErrorIsRegistryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ListRepositories(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var regErr *Error
	if !castErr(err, &regErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if regErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("got status %d", regErr.StatusCode)
	}
}

func TestProbeUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Probe(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var unavail *UnavailableError
	if !castErr(err, &unavail) {
		t.Fatalf("expected *UnavailableError, got %T: %v", err, err)
	}
}

func TestGetManifestSetsDigestFromHeader(t *testing.T) {
	const wantDigest = "sha256:deadbeef"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "" {
			t.Fatal("expected Accept header to be set")
		}
		w.Header().Set("Docker-Content-Digest", wantDigest)
		w.Header().Set("Content-Type", "application/vnd.docker.distribution.manifest.v2+json")
		w.Write([]byte(`{"schemaVersion":2}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	m, err := c.GetManifest(context.Background(), "myrepo", "latest")
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if m.Digest != wantDigest {
		t.Fatalf("got digest %q, want %q", m.Digest, wantDigest)
	}
	if len(m.Body) == 0 {
		t.Fatal("expected non-empty body")
	}
}

func TestGetManifestMissingReturnsZeroValueNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	m, err := c.GetManifest(context.Background(), "myrepo", "missing")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if m.Digest != "" || m.Body != nil {
		t.Fatalf("expected zero-value manifest, got %+v", m)
	}
}

func TestDeleteManifestAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.DeleteManifest(context.Background(), "myrepo", "sha256:deadbeef"); err != nil {
		t.Fatalf("DeleteManifest: %v", err)
	}
}

func TestDeleteManifestFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.DeleteManifest(context.Background(), "myrepo", "sha256:deadbeef")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestNextLinkParsesRelNextAmongMultipleValues(t *testing.T) {
	link := `<https://example.com/v2/_catalog?n=100&last=a>; rel="next", <https://example.com/v2/_catalog>; rel="first"`
	got := nextLink(link)
	want := "https://example.com/v2/_catalog?n=100&last=a"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNextLinkEmptyWhenNoNext(t *testing.T) {
	if got := nextLink(`<https://example.com/v2/_catalog>; rel="first"`); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := nextLink(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestRateLimitDelaysSecondRequest(t *testing.T) {
	var count int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRateLimit(2, 1))
	ctx := context.Background()

	start := time.Now()
	if _, err := c.do(ctx, "GET", "/v2", nil); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := c.do(ctx, "GET", "/v2", nil); err != nil {
		t.Fatalf("second request: %v", err)
	}
	elapsed := time.Since(start)

	if count != 2 {
		t.Fatalf("expected 2 requests, got %d", count)
	}
	if elapsed < 200*time.Millisecond {
		t.Fatalf("expected the limiter to delay the second request, elapsed only %s", elapsed)
	}
}

// castErr is a small stand-in for errors.As for this file's narrow needs:
// it does a direct type assertion and does not unwrap err.
func castErr(err error, target any) bool {
	switch t := target.(type) {
	case **Error:
		e, ok := err.(*Error)
		if ok {
			*t = e
		}
		return ok
	case **UnavailableError:
		e, ok := err.(*UnavailableError)
		if ok {
			*t = e
		}
		return ok
	default:
		return false
	}
}
