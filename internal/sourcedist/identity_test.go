package sourcedist

import "testing"

func TestShardIsStablePerKind(t *testing.T) {
	a := SourceDist{Kind: KindURL, URL: "https://example.com/demo-1.0.0.tar.gz"}
	b := SourceDist{Kind: KindURL, URL: "https://example.com/demo-1.0.0.tar.gz"}
	c := SourceDist{Kind: KindURL, URL: "https://example.com/demo-2.0.0.tar.gz"}

	if a.Shard() != b.Shard() {
		t.Error("identical URL sources should share a shard")
	}

	if a.Shard() == c.Shard() {
		t.Error("different URL sources should not share a shard")
	}
}

func TestShardDiffersByKindAndRevision(t *testing.T) {
	git1 := SourceDist{Kind: KindGit, URL: "https://example.com/demo.git", Revision: "abc123"}
	git2 := SourceDist{Kind: KindGit, URL: "https://example.com/demo.git", Revision: "def456"}

	if git1.Shard() == git2.Shard() {
		t.Error("different revisions of the same git source should not share a shard")
	}

	path := SourceDist{Kind: KindPath, Path: "/tmp/demo"}
	url := SourceDist{Kind: KindURL, URL: "/tmp/demo"}

	if path.Shard() == url.Shard() {
		t.Error("path and URL kinds sharing a string should not collide")
	}
}
