package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Instance", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Instance:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Instance", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestShouldColorizeIgnoresBuffers(t *testing.T) {
	if shouldColorize(&bytes.Buffer{}) {
		t.Fatal("buffers are never terminals")
	}
}

func TestDisplayRelative(t *testing.T) {
	cases := []struct {
		root, path, want string
	}{
		{"/in", "/in/a/b.jpg", "a/b.jpg"},
		{"/in", "/elsewhere/c.jpg", "/elsewhere/c.jpg"},
		{"", "/in/d.jpg", "/in/d.jpg"},
	}
	for _, tc := range cases {
		if got := displayRelative(tc.root, tc.path); got != tc.want {
			t.Fatalf("displayRelative(%q, %q) = %q, want %q", tc.root, tc.path, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Fatalf("unexpected %q", got)
	}
}
