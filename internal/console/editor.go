package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

var (
	errInputInterrupt = errors.New("console: input interrupted")
	errInputEOF       = errors.New("console: input eof")
)

// LineEditor reads one topic at a time.
type LineEditor interface {
	ReadLine(prompt string) (string, error)
	Output() io.Writer
	Close() error
}

// EditorConfig configures NewLineEditor.
type EditorConfig struct {
	HistoryFile string
}

// NewLineEditor returns a readline editor on a terminal and a plain stdio
// reader otherwise.
func NewLineEditor(cfg EditorConfig) LineEditor {
	if isTTY(os.Stdin) && isTTY(os.Stdout) {
		rl, err := newReadlineEditor(cfg)
		if err == nil {
			return rl
		}
	}
	return NewStdioEditor(os.Stdin, os.Stdout)
}

func isTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

type readlineEditor struct {
	rl *readline.Instance
}

func newReadlineEditor(cfg EditorConfig) (*readlineEditor, error) {
	historyFile := strings.TrimSpace(cfg.HistoryFile)
	if historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
			return nil, fmt.Errorf("console: create history dir: %w", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "topic> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &readlineEditor{rl: rl}, nil
}

func (r *readlineEditor) ReadLine(prompt string) (string, error) {
	if r == nil || r.rl == nil {
		return "", io.EOF
	}
	r.rl.SetPrompt(prompt)
	line, err := r.rl.Readline()
	if err == nil {
		return strings.TrimSpace(line), nil
	}
	if errors.Is(err, readline.ErrInterrupt) {
		return "", errInputInterrupt
	}
	if errors.Is(err, io.EOF) {
		return "", errInputEOF
	}
	return "", err
}

func (r *readlineEditor) Output() io.Writer {
	if r == nil || r.rl == nil {
		return os.Stdout
	}
	return r.rl.Stdout()
}

func (r *readlineEditor) Close() error {
	if r == nil || r.rl == nil {
		return nil
	}
	return r.rl.Close()
}

type stdioEditor struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewStdioEditor reads lines from in and writes prompts to out.
func NewStdioEditor(in io.Reader, out io.Writer) LineEditor {
	return &stdioEditor{reader: bufio.NewReader(in), out: out}
}

func (s *stdioEditor) ReadLine(prompt string) (string, error) {
	if s == nil || s.reader == nil {
		return "", io.EOF
	}
	fmt.Fprint(s.out, prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line = strings.TrimSpace(line); line != "" {
				return line, nil
			}
			return "", errInputEOF
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *stdioEditor) Output() io.Writer {
	if s == nil || s.out == nil {
		return os.Stdout
	}
	return s.out
}

func (s *stdioEditor) Close() error {
	return nil
}
