package models

import (
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	base := Fingerprint("Critical RCE in Widget", "https://example.com/post/1")

	tests := []struct {
		name  string
		title string
		link  string
		same  bool
	}{
		{"identical", "Critical RCE in Widget", "https://example.com/post/1", true},
		{"case and spacing", "  critical   rce in WIDGET ", "https://example.com/post/1", true},
		{"trailing slash", "Critical RCE in Widget", "https://example.com/post/1/", true},
		{"fragment", "Critical RCE in Widget", "https://example.com/post/1#comments", true},
		{"scheme and host case", "Critical RCE in Widget", "HTTPS://Example.COM/post/1", true},
		{"path case", "Critical RCE in Widget", "https://example.com/Post/1", false},
		{"different link", "Critical RCE in Widget", "https://example.com/post/2", false},
		{"different title", "Critical RCE in Gadget", "https://example.com/post/1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.title, tt.link)
			if (got == base) != tt.same {
				t.Errorf("Fingerprint(%q, %q) same=%v, want %v", tt.title, tt.link, got == base, tt.same)
			}
		})
	}
}

func TestFingerprint_UnparsableLink(t *testing.T) {
	if Fingerprint("t", "not a url/Path") == Fingerprint("t", "not a url/path") {
		t.Error("links without a host should keep their case")
	}
	if Fingerprint("t", " %zz/x# ") != Fingerprint("t", "%zz/x") {
		t.Error("unparsable links should still be trimmed")
	}
}

func TestFingerprint_TitleLinkBoundary(t *testing.T) {
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("expected title/link boundary to be part of the fingerprint")
	}
}

func TestCacheMetaAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := CacheMeta{LastRefresh: now.Add(-7 * time.Minute)}
	if got := m.Age(now); got != 7*time.Minute {
		t.Errorf("Age = %v, want 7m", got)
	}
}

func TestSortOrderString(t *testing.T) {
	if NewestFirst.String() != "newest" || OldestFirst.String() != "oldest" {
		t.Errorf("unexpected strings: %q %q", NewestFirst, OldestFirst)
	}
}
