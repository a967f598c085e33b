package index

// IsYanked reports whether f was marked yanked (PEP 592) by its index.
func IsYanked(f File) bool {
	return f.Yanked
}

// SelectableFiles filters out yanked files, except those matching
// pinnedVersion — spec.md §4.3: "Yanked releases are retained in listings
// but never selected unless the caller pins that exact version."
// pinnedVersion is empty when the caller has no pin in effect.
func SelectableFiles(files []File, pinnedVersion string) []File {
	out := make([]File, 0, len(files))

	for _, f := range files {
		if f.Yanked && f.Version != pinnedVersion {
			continue
		}

		out = append(out, f)
	}

	return out
}
