// Package stability decides when a newly observed file has finished being
// written by sampling its size and modification time until they settle.
package stability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Outcome reports how a stability wait ended.
type Outcome int

const (
	// Ready means the file held still for the required number of samples.
	Ready Outcome = iota
	// TimedOut means the maximum wait elapsed while the file kept changing.
	TimedOut
	// Vanished means the path disappeared or stopped being a regular file.
	Vanished
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case Vanished:
		return "vanished"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configures a Detector.
type Options struct {
	Interval time.Duration
	// Samples is the number of consecutive identical observations required.
	Samples int
	MaxWait time.Duration
}

// Detector polls a file until it stops changing.
type Detector struct {
	opts Options
	stat func(string) (os.FileInfo, error)
}

// New builds a Detector; non-positive options fall back to small defaults.
func New(opts Options) *Detector {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Samples <= 0 {
		opts.Samples = 3
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Minute
	}
	return &Detector{opts: opts, stat: os.Stat}
}

// Options returns the effective options.
func (d *Detector) Options() Options {
	return d.opts
}

type sample struct {
	size    int64
	modTime time.Time
}

// same compares instants, not time.Time representations.
func (s sample) same(o sample) bool {
	return s.size == o.size && s.modTime.Equal(o.modTime)
}

// Await blocks until the file at path is stable, vanishes, or the maximum
// wait elapses. Empty files never count as stable. The only error returned
// is the context's when it is cancelled first.
func (d *Detector) Await(ctx context.Context, path string) (Outcome, error) {
	deadline := time.NewTimer(d.opts.MaxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	var last sample
	streak := 0
	for {
		current, state := d.observe(path)
		switch state {
		case observeVanished:
			return Vanished, nil
		case observeUnreadable:
			streak = 0
		default:
			switch {
			case current.size == 0:
				streak = 0
			case streak > 0 && current.same(last):
				streak++
			default:
				streak = 1
			}
			last = current
		}
		if streak >= d.opts.Samples {
			return Ready, nil
		}

		select {
		case <-ctx.Done():
			return TimedOut, ctx.Err()
		case <-deadline.C:
			return TimedOut, nil
		case <-ticker.C:
		}
	}
}

type observation int

const (
	observeOK observation = iota
	observeVanished
	// observeUnreadable covers transient stat failures such as permission
	// changes mid-copy; the wait continues until the deadline.
	observeUnreadable
)

func (d *Detector) observe(path string) (sample, observation) {
	info, err := d.stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sample{}, observeVanished
		}
		return sample{}, observeUnreadable
	}
	if !info.Mode().IsRegular() {
		return sample{}, observeVanished
	}
	return sample{size: info.Size(), modTime: info.ModTime()}, observeOK
}
