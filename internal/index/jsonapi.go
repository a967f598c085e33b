package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

const (
	defaultJSONAPIBaseURL = "https://pypi.org/pypi"
	maxRetries            = 3
	clientTimeout         = 30 * time.Second
)

// jsonPackageInfo is the top-level response shape from the PyPI JSON API,
// kept verbatim from the teacher's internal/pypi/models.go.
// Endpoint: GET {baseURL}/{package_name}/json
type jsonPackageInfo struct {
	Info     jsonInfo             `json:"info"`
	URLs     []jsonURL            `json:"urls"`
	Releases map[string][]jsonURL `json:"releases"`
}

type jsonInfo struct {
	Name           string            `json:"name"`
	Version        string            `json:"version"`
	Summary        string            `json:"summary"`
	RequiresDist   []string          `json:"requires_dist"`
	RequiresPython string            `json:"requires_python"`
	PackageURL     string            `json:"package_url"`
	ProjectURL     string            `json:"project_url"`
	ProjectURLs    map[string]string `json:"project_urls"`
	Yanked         bool              `json:"yanked"`
	YankedReason   string            `json:"yanked_reason"`
}

type jsonURL struct {
	Filename       string  `json:"filename"`
	URL            string  `json:"url"`
	Size           int64   `json:"size"`
	PackageType    string  `json:"packagetype"`
	PythonVersion  string  `json:"python_version"`
	RequiresPython string  `json:"requires_python"`
	Digests        Digests `json:"digests"`
	Yanked         bool    `json:"yanked"`
	YankedReason   string  `json:"yanked_reason"`
	UploadTime     string  `json:"upload_time_iso_8601"`
}

// toListing flattens the per-version releases map into one Listing
// spanning every release, the shape the selector and resolver consume.
func (p *jsonPackageInfo) toListing(name, source string) Listing {
	listing := Listing{Name: name, Source: source}

	for version, urls := range p.Releases {
		for _, u := range urls {
			listing.Files = append(listing.Files, File{
				Filename:       u.Filename,
				URL:            u.URL,
				Version:        version,
				PackageType:    u.PackageType,
				RequiresPython: u.RequiresPython,
				Hashes:         u.Digests.asMap(),
				Size:           u.Size,
				Yanked:         u.Yanked,
				YankedReason:   u.YankedReason,
				Source:         source,
				UploadTime:     u.UploadTime,
			})
		}
	}

	return listing
}

// JSONAPIOption configures a JSONAPIClient.
type JSONAPIOption func(*JSONAPIClient)

// WithJSONAPIHTTPClient sets the HTTP client used for API requests.
func WithJSONAPIHTTPClient(c *http.Client) JSONAPIOption {
	return func(s *JSONAPIClient) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithJSONAPIBaseURL sets a custom base URL (useful for testing with httptest.Server).
func WithJSONAPIBaseURL(url string) JSONAPIOption {
	return func(s *JSONAPIClient) {
		if url != "" {
			s.baseURL = url
		}
	}
}

// WithJSONAPILogger sets the structured logger.
func WithJSONAPILogger(l *slog.Logger) JSONAPIOption {
	return func(s *JSONAPIClient) {
		if l != nil {
			s.logger = l
		}
	}
}

// JSONAPIClient speaks the PyPI JSON API (GET {baseURL}/{name}/json), kept
// from the teacher's internal/pypi.Service: same retry/backoff fetch loop,
// generalized to return a normalized Listing instead of the raw response
// shape.
type JSONAPIClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	source     string
}

// NewJSONAPIClient creates a JSON API client identified by source, the
// index identifier used for Listing.Source and strategy tie-breaks.
func NewJSONAPIClient(source string, opts ...JSONAPIOption) *JSONAPIClient {
	s := &JSONAPIClient{
		httpClient: &http.Client{Timeout: clientTimeout},
		baseURL:    defaultJSONAPIBaseURL,
		logger:     slog.Default(),
		source:     source,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// List fetches every known release for name from the JSON API.
func (s *JSONAPIClient) List(ctx context.Context, name string) (Listing, error) {
	url := fmt.Sprintf("%s/%s/json", s.baseURL, name)

	info, err := s.fetch(ctx, url, name)
	if err != nil {
		return Listing{}, err
	}

	return info.toListing(name, s.source), nil
}

// retryableError indicates a transient error that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// fetch performs an HTTP GET with retry and exponential backoff, then
// decodes the response. Only transient errors (5xx, network errors) are
// retried; permanent errors (404, bad JSON) are returned immediately.
func (s *JSONAPIClient) fetch(ctx context.Context, url, name string) (*jsonPackageInfo, error) {
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			s.logger.Debug("retrying index request",
				slog.String("package", name),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetching %s: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		info, err := s.doRequest(ctx, url)
		if err == nil {
			return info, nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return nil, fmt.Errorf("fetching %s: %w", name, err)
		}

		lastErr = err
		s.logger.Debug("index request failed",
			slog.String("package", name),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("fetching %s after %d attempts: %w", name, maxRetries, lastErr)
}

// doRequest performs a single HTTP GET and decodes the JSON response.
// Returns a retryableError for transient failures (5xx, network errors).
func (s *JSONAPIClient) doRequest(ctx context.Context, url string) (*jsonPackageInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("requesting %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("package not found at %s", url)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &retryableError{err: fmt.Errorf("server error %d from %s", resp.StatusCode, url)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("reading response from %s: %w", url, err)}
	}

	var info jsonPackageInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding response from %s: %w", url, err)
	}

	return &info, nil
}
