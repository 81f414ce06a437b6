package secret

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("ESCROWCTL_TEST_SECRET", strings.Repeat("k", MinLength))
	src := NewSource("ESCROWCTL_TEST_SECRET")
	src.isTerminal = func(int) bool {
		t.Fatalf("terminal must not be consulted when the variable is set")
		return false
	}
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != strings.Repeat("k", MinLength) {
		t.Fatalf("unexpected secret %q", got)
	}
}

func TestSourceRejectsShortSecret(t *testing.T) {
	t.Setenv("ESCROWCTL_TEST_SECRET", "short")
	if _, err := NewSource("ESCROWCTL_TEST_SECRET").Get(); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	var prompt bytes.Buffer
	src := NewSource("")
	src.prompt = &prompt
	src.isTerminal = func(int) bool { return true }
	calls := 0
	src.readSecret = func(int) ([]byte, error) {
		calls++
		return []byte(strings.Repeat("p", MinLength) + "\n"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != strings.Repeat("p", MinLength) {
			t.Fatalf("unexpected secret %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one prompt, got %d", calls)
	}
	if !strings.Contains(prompt.String(), "signing secret") {
		t.Fatalf("prompt not written: %q", prompt.String())
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("ESCROWCTL_UNSET_SECRET")
	src.isTerminal = func(int) bool { return false }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "ESCROWCTL_UNSET_SECRET") {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	failing := NewSource("")
	failing.prompt = &bytes.Buffer{}
	failing.isTerminal = func(int) bool { return true }
	failing.readSecret = func(int) ([]byte, error) { return nil, errors.New("tty gone") }
	if _, err := failing.Get(); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Fatalf("expected read failure, got %v", err)
	}
}
