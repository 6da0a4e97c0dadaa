package pathutil

import "testing"

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", false},
		{"/index.html", false},
		{"/css/site.css", false},
		{"/./index.html", true},
		{"/../etc/passwd", true},
		{"/a/..", true},
		{"/a.b/c", false},
		{"/..hidden", false},
	}
	for _, tt := range tests {
		if got := HasDotSegments(tt.path); got != tt.want {
			t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHasHiddenSegment(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/index.html", false},
		{"/.env", true},
		{"/.git/config", true},
		{"/assets/.DS_Store", true},
		{"/a.b/c.d", false},
	}
	for _, tt := range tests {
		if got := HasHiddenSegment(tt.path); got != tt.want {
			t.Errorf("HasHiddenSegment(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestUnsafe(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/index.html", false},
		{"/a\x00b", true},
		{"/a\\b", true},
		{"/a/../b", true},
	}
	for _, tt := range tests {
		if got := Unsafe(tt.path); got != tt.want {
			t.Errorf("Unsafe(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
