package index

// File is a single downloadable distribution (wheel or sdist) for one
// release of a package, normalized across the three source formats this
// package speaks: the PyPI JSON API, the PEP 503 HTML simple index, and the
// PEP 691 JSON simple index.
type File struct {
	Filename       string
	URL            string
	Version        string
	PackageType    string // "bdist_wheel" or "sdist"
	RequiresPython string
	Hashes         map[string]string
	Size           int64
	Yanked         bool
	YankedReason   string
	GPGSig         string // "true", "false", or "" (unspecified, per data-gpg-sig)
	Source         string // index identifier this file was listed by, for priority tie-breaks
	UploadTime     string // RFC 3339, when the index reports it (PEP 691 JSON, PyPI JSON API); empty for PEP 503 HTML
}

// Listing is every known file for one package, as reported by a single
// index. A caller merges Listings from multiple indexes per its configured
// Strategy (see strategy.go).
type Listing struct {
	Name   string
	Source string
	Files  []File
}

// Digests holds the hash digests PyPI's JSON API reports for a file. The
// simple index formats report the same hashes as a `#sha256=...` URL
// fragment (PEP 503 HTML) or a `hashes` object (PEP 691 JSON) instead; all
// three normalize into File.Hashes.
type Digests struct {
	SHA256     string `json:"sha256"`
	MD5        string `json:"md5"`
	Blake2b256 string `json:"blake2b_256"`
}

func (d Digests) asMap() map[string]string {
	m := map[string]string{}

	if d.SHA256 != "" {
		m["sha256"] = d.SHA256
	}

	if d.MD5 != "" {
		m["md5"] = d.MD5
	}

	if d.Blake2b256 != "" {
		m["blake2b_256"] = d.Blake2b256
	}

	return m
}
