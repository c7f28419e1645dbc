// Package secret resolves operator secrets from the environment or an
// interactive terminal prompt.
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

// Source lazily resolves a secret. The value is cached after the first
// successful retrieval.
type Source struct {
	envVar string
	prompt string
	lookup func(string) (string, bool)
	stdin  *os.File
	stderr io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting on the
// terminal with prompt.
func NewSource(envVar, prompt string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		prompt: prompt,
		lookup: os.LookupEnv,
		stdin:  os.Stdin,
		stderr: os.Stderr,
	}
}

// WithLookup replaces the environment lookup.
func (s *Source) WithLookup(lookup func(string) (string, bool)) *Source {
	if lookup != nil {
		s.lookup = lookup
	}
	return s
}

// Get returns the cached secret or resolves it on first use. Whitespace-only
// values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = strings.TrimSpace(value)
				return
			}
		}

		fd := int(s.stdin.Fd())
		if !term.IsTerminal(fd) {
			if s.envVar != "" {
				s.err = fmt.Errorf("secret required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("secret required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.stderr, s.prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(s.stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read secret: %w", err)
			return
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			s.err = errors.New("secret cannot be empty")
			return
		}
		s.value = value
	})
	return s.value, s.err
}
