package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestWrapKeepsCodeThroughChain(t *testing.T) {
	base := stdErrors.New("rpc down")
	wrapped := fmt.Errorf("outer: %w", Wrap(CodeUpstreamFailure, base, "读取余额失败"))

	if CodeOf(wrapped) != CodeUpstreamFailure {
		t.Fatalf("unexpected code %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, base) {
		t.Fatalf("cause lost in chain")
	}
	if !stdErrors.Is(wrapped, New(CodeUpstreamFailure, "")) {
		t.Fatalf("errors.Is should match on code")
	}
	if !RetryableError(wrapped) {
		t.Fatalf("upstream failures are retryable by default")
	}
}

func TestMetadataRenderedSorted(t *testing.T) {
	err := New(CodeInvalidArgument, "bad", WithMetadata("b", "2"), WithMetadata("a", "1"))
	if !strings.Contains(err.Error(), "(a=1, b=2)") {
		t.Fatalf("unexpected rendering %q", err.Error())
	}
}

func TestRegisterOverridesDefaults(t *testing.T) {
	const code Code = "TEST_REGISTERED"
	Register(code, Attributes{Message: "custom", Severity: SeverityCritical, Alert: true})

	err := New(code, "")
	if err.Message() != "custom" || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("registered attributes not applied: %+v", err)
	}
	if New(code, "", WithAlert(false)).ShouldAlert() {
		t.Fatalf("option should override registered alert flag")
	}
}

func TestLogValueIsStructured(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	err := Wrap(CodeStorageFailure, stdErrors.New("disk full"), "写入失败", WithMetadata("task_id", "aaaaaaaa"))

	log.Error("failed", slog.Any("error", err))

	out := buf.String()
	for _, want := range []string{`"code":"STORAGE_FAILURE"`, `"task_id":"aaaaaaaa"`, `"cause":"disk full"`, `"severity":"critical"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}
