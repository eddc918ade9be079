package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := newError(KindProbe, "probe video", errors.New("moov atom not found"))

	if !errors.Is(err, ErrProbe) {
		t.Error("errors.Is(err, ErrProbe) = false")
	}
	if errors.Is(err, ErrDownload) {
		t.Error("errors.Is(err, ErrDownload) = true")
	}

	wrapped := fmt.Errorf("job 7: %w", err)
	if !errors.Is(wrapped, ErrProbe) {
		t.Error("sentinel not found through wrapping")
	}
	if KindOf(wrapped) != KindProbe {
		t.Errorf("KindOf = %q, want probe", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf of a plain error should be empty")
	}
}

func TestErrorIs_ReachesCause(t *testing.T) {
	err := newError(KindUpload, "upload clips", context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestErrorIs_NonSentinelTarget(t *testing.T) {
	a := newError(KindProbe, "probe video", errors.New("x"))
	b := newError(KindProbe, "probe video", errors.New("x"))
	if errors.Is(a, b) {
		t.Error("distinct errors with Op set should not match each other")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{newError(KindProbe, "probe video", errors.New("bad input")), "probe video: bad input"},
		{validationError("video %s not found", "v1"), "video v1 not found"},
		{&Error{Kind: KindInternal, Op: "panic"}, "panic"},
		{ErrSegmentation, "segmentation error"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
