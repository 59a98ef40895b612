package console

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

// Input handles admin input with readline support
type Input struct {
	rl      *readline.Instance
	isPiped bool
	scanner *bufio.Scanner
}

// NewInput reads from stdin, using readline when stdin is a terminal.
func NewInput() (*Input, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) == 0 {
		return NewReaderInput(os.Stdin), nil
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "index-mcp> ",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      completer(),
	})
	if err != nil {
		return nil, err
	}
	return &Input{rl: rl}, nil
}

// NewReaderInput reads lines from r without line editing.
func NewReaderInput(r io.Reader) *Input {
	return &Input{
		isPiped: true,
		scanner: bufio.NewScanner(r),
	}
}

func completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(defaultCommands()))
	for _, c := range defaultCommands() {
		items = append(items, readline.PcItem("/"+c.Name))
	}
	return readline.NewPrefixCompleter(items...)
}

// ReadLine reads one trimmed line.
func (i *Input) ReadLine() (string, error) {
	if i.isPiped {
		if i.scanner.Scan() {
			return strings.TrimSpace(i.scanner.Text()), nil
		}
		if err := i.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}

	line, err := i.rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Close closes the readline instance
func (i *Input) Close() error {
	if i.rl != nil {
		return i.rl.Close()
	}
	return nil
}

// IsPiped returns true if input is not a terminal
func (i *Input) IsPiped() bool {
	return i.isPiped
}

// IsInterrupt checks if the error is an interrupt (Ctrl+C)
func IsInterrupt(err error) bool {
	return errors.Is(err, readline.ErrInterrupt)
}

// IsEOF checks if the error is EOF (Ctrl+D)
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
