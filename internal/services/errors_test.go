package services_test

import (
	"errors"
	"strings"
	"testing"

	"upright/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "deciding", "ollama", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"deciding", "ollama", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestFailureKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{services.Wrap(services.ErrTimeout, "stabilizing", "await", "still growing", nil), services.KindTimedOut},
		{services.Wrap(services.ErrVanished, "stabilizing", "stat", "gone", nil), services.KindVanished},
		{services.Wrap(services.ErrDecision, "deciding", "parse", "bad angle", nil), services.KindDecisionFailure},
		{services.Wrap(services.ErrWrite, "writing", "rename", "", errors.New("EXDEV")), services.KindWriteFailure},
		{services.Wrap(services.ErrDestinationExists, "writing", "stat", "", nil), services.KindDestinationExists},
		{errors.New("other"), services.KindUnknown},
		{nil, services.KindUnknown},
	}
	for _, tc := range cases {
		if got := services.FailureKind(tc.err); got != tc.want {
			t.Fatalf("FailureKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
