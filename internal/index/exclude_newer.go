package index

import "time"

// FilterExcludeNewer drops files uploaded after cutoff, giving a resolve
// reproducible results as of a point in time. Files with no reported
// UploadTime (PEP 503 HTML listings predate the field) are kept rather than
// dropped, since the index simply didn't tell us when they were published.
func FilterExcludeNewer(files []File, cutoff time.Time) []File {
	if cutoff.IsZero() {
		return files
	}

	out := make([]File, 0, len(files))

	for _, f := range files {
		if f.UploadTime == "" {
			out = append(out, f)

			continue
		}

		uploaded, err := time.Parse(time.RFC3339, f.UploadTime)
		if err != nil || !uploaded.After(cutoff) {
			out = append(out, f)
		}
	}

	return out
}
