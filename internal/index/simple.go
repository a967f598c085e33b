package index

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

const defaultSimpleBaseURL = "https://pypi.org/simple/"

// simpleAcceptHeader asks for the PEP 691 JSON representation first and
// falls back to the PEP 503 HTML representation a server that predates 691
// will send regardless of what's offered.
const simpleAcceptHeader = "application/vnd.pypi.simple.v1+json, application/vnd.pypi.simple.v1+html;q=0.5, text/html;q=0.1"

// SimpleOption configures a SimpleClient.
type SimpleOption func(*SimpleClient)

// WithSimpleHTTPClient sets the HTTP client used for index requests.
func WithSimpleHTTPClient(c *http.Client) SimpleOption {
	return func(s *SimpleClient) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithSimpleBaseURL overrides the default PyPI simple-index base URL.
func WithSimpleBaseURL(u string) SimpleOption {
	return func(s *SimpleClient) {
		if u != "" {
			s.baseURL = u
		}
	}
}

// SimpleClient speaks the PEP 503 "simple" HTML API and the PEP 691 JSON
// API, grounded on datawire-ocibuild's pep503.Client: same GET-then-parse
// shape, generalized to branch on response Content-Type between the two
// listing formats and to emit a normalized Listing.
type SimpleClient struct {
	httpClient *http.Client
	baseURL    string
	source     string
}

// NewSimpleClient creates a simple-index client identified by source, the
// index identifier used for Listing.Source and strategy tie-breaks.
func NewSimpleClient(source string, opts ...SimpleOption) *SimpleClient {
	s := &SimpleClient{
		httpClient: http.DefaultClient,
		baseURL:    defaultSimpleBaseURL,
		source:     source,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

var nameSepRe = regexp.MustCompile(`[-_.]+`)

// normalizeName applies PEP 503's project-name normalization for building
// simple-index URLs.
func normalizeName(name string) string {
	return strings.ToLower(nameSepRe.ReplaceAllLiteralString(name, "-"))
}

// get performs a GET, verifying a checksum carried in the request URL's
// fragment (`#sha256=...`) against the response body, the same convention
// the simple HTML API uses for project-file links.
func (s *SimpleClient) get(ctx context.Context, requestURL string) (*url.URL, []byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("creating request for %s: %w", requestURL, err)
	}

	req.Header.Set("Accept", simpleAcceptHeader)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, "", fmt.Errorf("requesting %s: %w", requestURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, "", fmt.Errorf("reading response from %s: %w", requestURL, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, requestURL)
	}

	if err := verifyFragmentChecksum(requestURL, content); err != nil {
		return nil, nil, "", err
	}

	return resp.Request.URL, content, resp.Header.Get("Content-Type"), nil
}

func verifyFragmentChecksum(requestURL string, content []byte) error {
	u, err := url.Parse(requestURL)
	if err != nil || u.Fragment == "" {
		return nil
	}

	keyvals, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil
	}

	for key, vals := range keyvals {
		var sum []byte

		switch key {
		case "md5":
			s := md5.Sum(content)
			sum = s[:]
		case "sha1":
			s := sha1.Sum(content)
			sum = s[:]
		case "sha224":
			s := sha256.Sum224(content)
			sum = s[:]
		case "sha256":
			s := sha256.Sum256(content)
			sum = s[:]
		case "sha384":
			s := sha512.Sum384(content)
			sum = s[:]
		case "sha512":
			s := sha512.Sum512(content)
			sum = s[:]
		default:
			continue
		}

		for _, val := range vals {
			if hex.EncodeToString(sum) != val {
				return fmt.Errorf("checksum mismatch: %s: expected=%s actual=%s", key, val, hex.EncodeToString(sum))
			}
		}
	}

	return nil
}

// link is one <a> element from a PEP 503 HTML listing page.
type link struct {
	text      string
	href      string
	dataAttrs map[string]string
}

func visitHTML(node *html.Node, visit func(*html.Node) error) error {
	if err := visit(node); err != nil {
		return err
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if err := visitHTML(child, visit); err != nil {
			return err
		}
	}

	return nil
}

func parseHTMLLinks(location *url.URL, content []byte) ([]link, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parsing simple index HTML: %w", err)
	}

	var links []link

	err = visitHTML(doc, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "a" {
			return nil
		}

		l := link{dataAttrs: make(map[string]string)}

		for _, attr := range node.Attr {
			switch {
			case attr.Namespace == "" && attr.Key == "href":
				href, err := location.Parse(attr.Val)
				if err != nil {
					return fmt.Errorf("resolving href %q: %w", attr.Val, err)
				}

				l.href = href.String()
			case attr.Namespace == "" && strings.HasPrefix(attr.Key, "data-"):
				l.dataAttrs[attr.Key] = attr.Val
			}
		}

		var text strings.Builder

		_ = visitHTML(node, func(child *html.Node) error {
			if child.Type == html.TextNode {
				text.WriteString(child.Data)
			}

			return nil
		})

		l.text = text.String()
		links = append(links, l)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return links, nil
}

// pep691File mirrors the "files" array entries of a PEP 691 JSON simple
// index response.
type pep691File struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	Hashes         map[string]string `json:"hashes"`
	RequiresPython string            `json:"requires-python"`
	Yanked         any               `json:"yanked"` // bool or string reason
	Size           int64             `json:"size"`
	GPGSig         *bool             `json:"gpg-sig"`
	UploadTime     string            `json:"upload-time"` // PEP 700 extension
}

type pep691Response struct {
	Name  string       `json:"name"`
	Files []pep691File `json:"files"`
}

func (f pep691File) yanked() (bool, string) {
	switch v := f.Yanked.(type) {
	case bool:
		return v, ""
	case string:
		return true, v
	default:
		return false, ""
	}
}

// FetchFile downloads a file previously found in a Listing, verifying any
// checksum carried in the URL's fragment (e.g. `#sha256=...`) through the
// same get method List uses for simple-index pages.
func (s *SimpleClient) FetchFile(ctx context.Context, fileURL string) ([]byte, error) {
	_, content, _, err := s.get(ctx, fileURL)

	return content, err
}

// List fetches the listing for name, decoding a PEP 691 JSON response when
// the server returns one and falling back to PEP 503 HTML tree-walking
// otherwise, the same two-format handling datawire-ocibuild documents for
// PyPI's simple index.
func (s *SimpleClient) List(ctx context.Context, name string) (Listing, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return Listing{}, fmt.Errorf("parsing base URL %s: %w", s.baseURL, err)
	}

	u.Path = path.Join(u.Path, normalizeName(name)) + "/"

	location, content, contentType, err := s.get(ctx, u.String())
	if err != nil {
		return Listing{}, err
	}

	if strings.Contains(contentType, "application/vnd.pypi.simple.v1+json") {
		return parsePEP691(name, s.source, content)
	}

	links, err := parseHTMLLinks(location, content)
	if err != nil {
		return Listing{}, err
	}

	return linksToListing(name, s.source, links), nil
}

func parsePEP691(name, source string, content []byte) (Listing, error) {
	var resp pep691Response
	if err := json.Unmarshal(content, &resp); err != nil {
		return Listing{}, fmt.Errorf("decoding PEP 691 listing for %s: %w", name, err)
	}

	listing := Listing{Name: name, Source: source}

	for _, f := range resp.Files {
		yanked, reason := f.yanked()

		gpgSig := ""
		if f.GPGSig != nil {
			if *f.GPGSig {
				gpgSig = "true"
			} else {
				gpgSig = "false"
			}
		}

		listing.Files = append(listing.Files, File{
			Filename:       f.Filename,
			URL:            f.URL,
			Version:        versionFromFilename(f.Filename),
			PackageType:    packageTypeFromFilename(f.Filename),
			RequiresPython: f.RequiresPython,
			Hashes:         f.Hashes,
			Size:           f.Size,
			Yanked:         yanked,
			YankedReason:   reason,
			GPGSig:         gpgSig,
			Source:         source,
			UploadTime:     f.UploadTime,
		})
	}

	return listing, nil
}

func linksToListing(name, source string, links []link) Listing {
	listing := Listing{Name: name, Source: source}

	for _, l := range links {
		_, yanked := l.dataAttrs["data-yanked"]

		listing.Files = append(listing.Files, File{
			Filename:       l.text,
			URL:            l.href,
			Version:        versionFromFilename(l.text),
			PackageType:    packageTypeFromFilename(l.text),
			RequiresPython: l.dataAttrs["data-requires-python"],
			Hashes:         hashesFromFragment(l.href),
			Yanked:         yanked,
			YankedReason:   l.dataAttrs["data-yanked"],
			GPGSig:         l.dataAttrs["data-gpg-sig"],
			Source:         source,
		})
	}

	return listing
}

func hashesFromFragment(href string) map[string]string {
	u, err := url.Parse(href)
	if err != nil || u.Fragment == "" {
		return nil
	}

	keyvals, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil
	}

	hashes := map[string]string{}

	for key, vals := range keyvals {
		if len(vals) > 0 {
			hashes[key] = vals[0]
		}
	}

	return hashes
}

func packageTypeFromFilename(filename string) string {
	if strings.HasSuffix(filename, ".whl") {
		return "bdist_wheel"
	}

	return "sdist"
}

var filenameVersionRe = regexp.MustCompile(`^[A-Za-z0-9_.]+-([0-9][^-]*)`)

// versionFromFilename extracts the version segment of a wheel or sdist
// filename (the simple index formats don't carry version as a separate
// field the way the JSON API's releases map does).
func versionFromFilename(filename string) string {
	for _, ext := range []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tgz", ".zip", ".tar"} {
		if trimmed, ok := strings.CutSuffix(filename, ext); ok {
			filename = trimmed

			break
		}
	}

	m := filenameVersionRe.FindStringSubmatch(filename)
	if m == nil {
		return ""
	}

	return m[1]
}
