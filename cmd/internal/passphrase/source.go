package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first call.
type Source struct {
	envVar string
	prompt io.Writer

	lookupEnv func(string) (string, bool)
	isTTY     func() bool
	readTTY   func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// prompting on stderr.
func NewSource(envVar string) *Source {
	fd := int(os.Stdin.Fd())
	return &Source{
		envVar:    strings.TrimSpace(envVar),
		prompt:    os.Stderr,
		lookupEnv: os.LookupEnv,
		isTTY:     func() bool { return term.IsTerminal(fd) },
		readTTY:   func() ([]byte, error) { return term.ReadPassword(fd) },
	}
}

// Get returns the cached passphrase or resolves it on first use. A set but
// blank environment variable and a blank typed passphrase are both rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !s.isTTY() {
			if s.envVar != "" {
				s.err = fmt.Errorf("signer keystore passphrase required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("signer keystore passphrase required and no terminal available")
			}
			return
		}

		fmt.Fprint(s.prompt, "Enter signer keystore passphrase: ")
		typed, err := s.readTTY()
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(typed)) == "" {
			s.err = errors.New("signer keystore passphrase cannot be empty")
			return
		}
		s.value = string(typed)
	})
	return s.value, s.err
}
