package stability

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"
)

type fakeInfo struct {
	size    int64
	modTime time.Time
}

func (f fakeInfo) Name() string       { return "a.jpg" }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return f.modTime }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

func TestAwaitComparesModTimeInstants(t *testing.T) {
	instant := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	zones := []*time.Location{time.UTC, time.FixedZone("plus-two", 2*3600)}
	calls := 0
	d := New(Options{Interval: 5 * time.Millisecond, Samples: 3, MaxWait: time.Second})
	d.stat = func(string) (os.FileInfo, error) {
		calls++
		// Same instant, different representation on every call.
		return fakeInfo{size: 10, modTime: instant.In(zones[calls%len(zones)])}, nil
	}

	outcome, err := d.Await(context.Background(), "a.jpg")
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if outcome != Ready {
		t.Fatalf("expected ready, got %s", outcome)
	}
	if calls != 3 {
		t.Fatalf("expected 3 samples, got %d", calls)
	}
}

func TestAwaitResetsStreakOnSizeChange(t *testing.T) {
	instant := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	sizes := []int64{10, 20, 20, 20}
	calls := 0
	d := New(Options{Interval: 5 * time.Millisecond, Samples: 3, MaxWait: time.Second})
	d.stat = func(string) (os.FileInfo, error) {
		size := sizes[len(sizes)-1]
		if calls < len(sizes) {
			size = sizes[calls]
		}
		calls++
		return fakeInfo{size: size, modTime: instant}, nil
	}

	if outcome, _ := d.Await(context.Background(), "a.jpg"); outcome != Ready {
		t.Fatalf("expected ready, got %s", outcome)
	}
	if calls != 4 {
		t.Fatalf("growth should restart the streak; expected 4 samples, got %d", calls)
	}
}
