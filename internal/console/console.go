// Package console is the interactive admin surface of a running server:
// status, tool toggles, history browsing and export, and listener settings.
package console

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/server"
)

var ErrExit = errors.New("exit requested")

// Console reads admin commands and applies them to a server.
type Console struct {
	server   *server.Server
	input    *Input
	output   *Output
	commands map[string]Command
}

// New creates a console on stdin and stdout.
func New(srv *server.Server) (*Console, error) {
	input, err := NewInput()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize input: %w", err)
	}
	return NewWithIO(srv, input, os.Stdout), nil
}

// NewWithIO creates a console on the given input and output.
func NewWithIO(srv *server.Server, input *Input, out io.Writer) *Console {
	commands := make(map[string]Command)
	for _, c := range defaultCommands() {
		commands[c.Name] = c
		for _, alias := range c.Aliases {
			commands[alias] = c
		}
	}
	return &Console{
		server:   srv,
		input:    input,
		output:   NewOutput(out),
		commands: commands,
	}
}

// Run reads commands until /exit or end of input.
func (c *Console) Run() error {
	defer c.input.Close()

	if !c.input.IsPiped() {
		c.printWelcome()
	}

	for {
		line, err := c.input.ReadLine()
		if IsEOF(err) {
			return nil
		}
		if IsInterrupt(err) {
			c.output.Println()
			continue
		}
		if err != nil {
			return fmt.Errorf("input error: %w", err)
		}
		if line == "" {
			continue
		}

		if err := c.Execute(line); err != nil {
			if errors.Is(err, ErrExit) {
				if !c.input.IsPiped() {
					c.output.Muted("Goodbye!")
				}
				return nil
			}
			c.output.Error("%v", err)
		}
	}
}

// Execute runs a single command line. A leading slash is optional.
func (c *Console) Execute(line string) error {
	name, args := ParseCommand(line)
	if name == "" {
		return nil
	}
	cmd, ok := c.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: /%s (type /help for available commands)", name)
	}
	return cmd.Handler(c, args)
}

func (c *Console) printWelcome() {
	c.output.Println()
	c.output.Info("%s admin console", server.Name)
	if url := c.server.Transport().SSEURL(); url != "" {
		c.output.Muted("SSE endpoint: %s", url)
	} else {
		c.output.Warning("server is not running (see /status)")
	}
	c.output.Muted("Type /help for commands, Ctrl+D to exit")
	c.output.Println()
}
