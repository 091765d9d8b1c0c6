// Package console is the terminal surface of the client: line prompts with
// hidden password entry, and styled output.
package console

import (
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
)

// ErrAborted is returned by a Prompter when the user quits (Ctrl-C, Ctrl-D).
var ErrAborted = errors.New("aborted by user")

// Prompter asks the user for one line of input.
type Prompter interface {
	Ask(prompt string) (string, error)
	// AskSecret reads without echoing the input.
	AskSecret(prompt string) (string, error)
}

// Readline prompts on the controlling terminal.
type Readline struct {
	rl *readline.Instance
}

// NewReadline sets up the terminal. History is disabled so that answers,
// which may be TANs, never land on disk.
func NewReadline() (*Readline, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryLimit:    -1,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &Readline{rl: rl}, nil
}

func (r *Readline) Ask(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	if err != nil {
		return "", mapReadError(err)
	}
	return strings.TrimSpace(line), nil
}

func (r *Readline) AskSecret(prompt string) (string, error) {
	b, err := r.rl.ReadPassword(prompt)
	if err != nil {
		return "", mapReadError(err)
	}
	return string(b), nil
}

// Stdout is a writer that cooperates with the prompt line.
func (r *Readline) Stdout() io.Writer {
	return r.rl.Stdout()
}

func (r *Readline) Close() error {
	return r.rl.Close()
}

func mapReadError(err error) error {
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return ErrAborted
	}
	return err
}

// Script answers prompts from a fixed list, for non-interactive runs. Once
// the list is exhausted every prompt returns ErrAborted.
type Script struct {
	mu      sync.Mutex
	answers []string
	prompts []string
}

// NewScript creates a Script replaying answers in order.
func NewScript(answers ...string) *Script {
	return &Script{answers: answers}
}

func (s *Script) Ask(prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if len(s.answers) == 0 {
		return "", ErrAborted
	}
	next := s.answers[0]
	s.answers = s.answers[1:]
	return next, nil
}

func (s *Script) AskSecret(prompt string) (string, error) {
	return s.Ask(prompt)
}

// Prompts returns every prompt asked so far.
func (s *Script) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Remaining returns the number of unused answers.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
