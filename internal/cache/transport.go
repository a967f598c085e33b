package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// meta is what CachingTransport persists alongside a response body: the
// RFC 9111 Policy plus the few header fields a cached body can't be
// correctly reused without (Content-Type above all, since the index
// client's simple-index parser branches on it).
type meta struct {
	Policy      Policy
	ContentType string
	RequestURL  string
}

// CachingTransport is an http.RoundTripper that applies the RFC 9111
// decision table of spec.md §4.2 (via Decide) to every GET request,
// persisting bodies and cache-control policy under the BucketHTTP bucket
// of a Root. Non-GET requests and requests whose response sets no-store
// pass through uncached. Shared by the index client and any other HTTP
// collaborator that wants cache-aware GETs.
type CachingTransport struct {
	Root *Root
	Next http.RoundTripper
}

func (t *CachingTransport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}

	return http.DefaultTransport
}

func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.next().RoundTrip(req)
	}

	key := req.URL.String()
	shard := Shard(key)
	metaEntry := Entry{Bucket: BucketHTTP, Shard: shard, File: "meta.json"}
	bodyEntry := Entry{Bucket: BucketHTTP, Shard: shard, File: "body"}

	cached, hit := t.Root.readMeta(metaEntry)
	now := time.Now()

	outcome := Decide(hit, cached.Policy, now)

	switch outcome {
	case OutcomeReturnCached:
		body, err := t.Root.Read(bodyEntry)
		if err != nil {
			return t.fetchFresh(req, key, shard)
		}

		return synthesizeResponse(req, cached, body), nil

	case OutcomeRevalidate:
		if cached.Policy.ETag != "" {
			req.Header.Set("If-None-Match", cached.Policy.ETag)
		}

		if cached.Policy.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.Policy.LastModified)
		}

		resp, err := t.next().RoundTrip(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusNotModified {
			refreshed := cached
			refreshed.Policy.StoredAt = now
			_ = resp.Body.Close()

			t.Root.writeMeta(metaEntry, refreshed)

			body, err := t.Root.Read(bodyEntry)
			if err != nil {
				return t.fetchFresh(req, key, shard)
			}

			return synthesizeResponse(req, refreshed, body), nil
		}

		return t.storeAndReturn(resp, metaEntry, bodyEntry, now)

	default: // OutcomeNetworkFetch, OutcomeDiscardFullFetch
		return t.fetchFresh(req, key, shard)
	}
}

func (t *CachingTransport) fetchFresh(req *http.Request, _, shard string) (*http.Response, error) {
	metaEntry := Entry{Bucket: BucketHTTP, Shard: shard, File: "meta.json"}
	bodyEntry := Entry{Bucket: BucketHTTP, Shard: shard, File: "body"}

	resp, err := t.next().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	return t.storeAndReturn(resp, metaEntry, bodyEntry, time.Now())
}

func (t *CachingTransport) storeAndReturn(resp *http.Response, metaEntry, bodyEntry Entry, now time.Time) (*http.Response, error) {
	policy := NewPolicy(resp.StatusCode, resp.Header, now)

	if resp.StatusCode != http.StatusOK || policy.NoStore {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	m := meta{Policy: policy, ContentType: resp.Header.Get("Content-Type"), RequestURL: resp.Request.URL.String()}

	if err := t.Root.WriteAtomic(bodyEntry, body); err == nil {
		t.Root.writeMeta(metaEntry, m)
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))

	return resp, nil
}

func synthesizeResponse(req *http.Request, m meta, body []byte) *http.Response {
	header := http.Header{}

	if m.ContentType != "" {
		header.Set("Content-Type", m.ContentType)
	}

	if m.Policy.ETag != "" {
		header.Set("ETag", m.Policy.ETag)
	}

	if m.Policy.LastModified != "" {
		header.Set("Last-Modified", m.Policy.LastModified)
	}

	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK (cached)",
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		Request:       req,
		ContentLength: int64(len(body)),
	}
}

func (r *Root) readMeta(e Entry) (meta, bool) {
	data, err := r.Read(e)
	if err != nil {
		return meta{}, false
	}

	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, false
	}

	return m, true
}

func (r *Root) writeMeta(e Entry, m meta) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}

	_ = r.WriteAtomic(e, data)
}
