// Package secret resolves the token signing secret for operator tooling.
package secret

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// MinLength matches the verifier's minimum HS256 key size.
const MinLength = 32

// Source lazily resolves the signing secret from an environment variable or
// by prompting the operator without echo. The value is cached after the first
// successful retrieval.
type Source struct {
	envVar string
	prompt io.Writer

	once  sync.Once
	value string
	err   error

	isTerminal func(fd int) bool
	readSecret func(fd int) ([]byte, error)
}

// NewSource constructs a source that checks envVar before prompting on
// stderr.
func NewSource(envVar string) *Source {
	return &Source{
		envVar:     strings.TrimSpace(envVar),
		prompt:     os.Stderr,
		isTerminal: term.IsTerminal,
		readSecret: term.ReadPassword,
	}
}

// Get returns the cached secret or resolves it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				s.value, s.err = check(value, s.envVar)
				return
			}
		}

		fd := int(os.Stdin.Fd())
		if !s.isTerminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("signing secret required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("signing secret required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.prompt, "Enter token signing secret: ")
		raw, err := s.readSecret(fd)
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read secret: %w", err)
			return
		}
		s.value, s.err = check(string(raw), "secret")
	})

	return s.value, s.err
}

func check(value, origin string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s is set but empty", origin)
	}
	if len(trimmed) < MinLength {
		return "", fmt.Errorf("%s must be at least %d bytes", origin, MinLength)
	}
	return trimmed, nil
}
