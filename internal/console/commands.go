package console

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/config"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/transport"
)

const defaultHistoryRows = 20

// Command represents a slash command
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Handler     func(c *Console, args string) error
}

// defaultCommands returns the built-in commands in help order.
func defaultCommands() []Command {
	return []Command{
		{Name: "help", Description: "Show available commands", Handler: cmdHelp},
		{Name: "status", Description: "Show server and index status", Handler: cmdStatus},
		{Name: "tools", Description: "List tools and whether they are enabled", Handler: cmdTools},
		{Name: "enable", Usage: "<tool>", Description: "Enable a tool", Handler: cmdEnable},
		{Name: "disable", Usage: "<tool>", Description: "Disable a tool", Handler: cmdDisable},
		{Name: "history", Usage: "[n] [tool=NAME] [status=S] [search=TEXT]", Description: "Show recent tool calls", Handler: cmdHistory},
		{Name: "export", Usage: "json|csv [file]", Description: "Export history", Handler: cmdExport},
		{Name: "clear", Description: "Clear command history", Handler: cmdClear},
		{Name: "capacity", Usage: "[n]", Description: "Show or set history capacity", Handler: cmdCapacity},
		{Name: "port", Usage: "[n]", Description: "Show or set the listening port (0 = default)", Handler: cmdPort},
		{Name: "restart", Description: "Restart the listener", Handler: cmdRestart},
		{Name: "sessions", Description: "List connected sessions", Handler: cmdSessions},
		{Name: "exit", Aliases: []string{"quit"}, Description: "Exit the console and stop the server", Handler: cmdExit},
	}
}

// ParseCommand splits a command line into a lower-cased name and the rest.
func ParseCommand(input string) (cmd string, args string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, rest, _ := strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

func cmdHelp(c *Console, args string) error {
	c.output.Println()
	c.output.Info("Available commands:")
	c.output.Println()
	for _, cmd := range defaultCommands() {
		usage := "/" + cmd.Name
		if cmd.Usage != "" {
			usage += " " + cmd.Usage
		}
		c.output.Muted("  %-50s %s", usage, cmd.Description)
	}
	c.output.Println()
	return nil
}

func cmdStatus(c *Console, args string) error {
	st := c.server.Transport().Status()
	project := c.server.Project()
	hist := c.server.History()

	c.output.Info("Server")
	c.output.Printf("  state:     %s\n", st.State)
	if st.State == transport.StateRunning {
		c.output.Printf("  endpoint:  %s\n", st.URL)
		c.output.Printf("  sse:       %s\n", c.server.Transport().SSEURL())
		c.output.Printf("  uptime:    %s\n", time.Since(st.StartedAt).Truncate(time.Second))
	} else {
		c.output.Printf("  address:   %s:%d\n", st.Config.Host, st.Config.Port)
	}
	c.output.Printf("  sessions:  %d\n", st.Sessions)

	c.output.Info("Project")
	c.output.Printf("  root:      %s\n", project.Root())
	ready := "indexing"
	if project.Ready() {
		ready = "ready"
	}
	c.output.Printf("  index:     %s\n", ready)

	c.output.Info("History")
	c.output.Printf("  entries:   %d/%d\n", hist.Len(), hist.Capacity())
	return nil
}

func cmdTools(c *Console, args string) error {
	settings := c.server.Settings().Current()
	for _, t := range c.server.Tools().List() {
		if settings.IsToolEnabled(t.Name()) {
			c.output.Success("  [on]  %s", t.Name())
		} else {
			c.output.Muted("  [off] %s", t.Name())
		}
	}
	return nil
}

func cmdEnable(c *Console, args string) error {
	return setToolEnabled(c, args, true)
}

func cmdDisable(c *Console, args string) error {
	return setToolEnabled(c, args, false)
}

func setToolEnabled(c *Console, name string, enabled bool) error {
	if name == "" {
		return fmt.Errorf("usage: /enable <tool> or /disable <tool>")
	}
	if _, ok := c.server.Tools().Get(name); !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if _, err := c.server.Settings().SetToolEnabled(name, enabled); err != nil {
		return err
	}
	c.save()
	if enabled {
		c.output.Success("Enabled %s", name)
	} else {
		c.output.Success("Disabled %s", name)
	}
	return nil
}

func cmdHistory(c *Console, args string) error {
	limit := defaultHistoryRows
	var filter history.Filter
	for _, field := range strings.Fields(args) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			n, err := strconv.Atoi(field)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid row count %q", field)
			}
			limit = n
			continue
		}
		switch strings.ToLower(key) {
		case "tool":
			filter.ToolName = value
		case "status":
			s, ok := history.ParseStatus(value)
			if !ok {
				return fmt.Errorf("invalid status %q (want pending, success or error)", value)
			}
			filter.Status = s
		case "search":
			filter.SearchText = value
		default:
			return fmt.Errorf("unknown filter %q", key)
		}
	}

	entries := c.server.History().Query(filter)
	if len(entries) == 0 {
		c.output.Muted("No matching history entries")
		return nil
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for _, e := range entries {
		c.output.Entry(e)
	}
	return nil
}

func cmdExport(c *Console, args string) error {
	format, path, _ := strings.Cut(args, " ")
	path = strings.TrimSpace(path)

	var data []byte
	var err error
	switch strings.ToLower(format) {
	case "json":
		data, err = c.server.History().ExportJSON()
	case "csv":
		data, err = c.server.History().ExportCSV()
	default:
		return fmt.Errorf("usage: /export json|csv [file]")
	}
	if err != nil {
		return err
	}

	if path == "" {
		c.output.Printf("%s\n", data)
		return nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	c.output.Success("Exported %d entries to %s", c.server.History().Len(), path)
	return nil
}

func cmdClear(c *Console, args string) error {
	c.server.History().Clear()
	c.output.Success("History cleared")
	return nil
}

func cmdCapacity(c *Console, args string) error {
	if args == "" {
		c.output.Info("History capacity: %d", c.server.History().Capacity())
		return nil
	}
	n, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid capacity %q", args)
	}
	updated, err := c.server.Settings().Update(func(s *config.Settings) { s.HistoryCapacity = n })
	if err != nil {
		return err
	}
	c.save()
	if updated.HistoryCapacity != n {
		c.output.Warning("capacity raised to the minimum of %d", updated.HistoryCapacity)
	}
	c.output.Success("History capacity set to %d", updated.HistoryCapacity)
	return nil
}

func cmdPort(c *Console, args string) error {
	if args == "" {
		settings := c.server.Settings().Current()
		c.output.Info("Port: %d", settings.EffectivePort())
		return nil
	}
	n, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid port %q", args)
	}
	updated, err := c.server.Settings().Update(func(s *config.Settings) { s.Port = n })
	if err != nil {
		return err
	}
	c.save()

	// A running listener was already moved by the settings listener; a
	// stopped one is started on the new port.
	if !c.server.Transport().IsRunning() {
		err := c.server.Transport().Start(context.Background(), transport.ServerConfigFrom(updated))
		if err != nil && !transport.IsPortInUse(err) {
			return err
		}
	}
	if c.server.Transport().IsRunning() {
		c.output.Success("Listening on %s", c.server.Transport().ServerURL())
		return nil
	}
	c.output.Warning("port %d is already in use; the server stays stopped until another port is chosen", updated.EffectivePort())
	return nil
}

func cmdRestart(c *Console, args string) error {
	cfg := transport.ServerConfigFrom(c.server.Settings().Current())
	if err := c.server.Transport().Restart(context.Background(), cfg); err != nil {
		if transport.IsPortInUse(err) {
			return fmt.Errorf("port %d is already in use; choose another with /port", cfg.Port)
		}
		return err
	}
	c.output.Success("Listening on %s", c.server.Transport().ServerURL())
	return nil
}

func cmdSessions(c *Console, args string) error {
	sessions := c.server.Transport().Sessions().List()
	if len(sessions) == 0 {
		c.output.Muted("No connected sessions")
		return nil
	}
	for _, s := range sessions {
		c.output.Printf("  %s  %-9s %-21s %s\n", s.ID, s.Transport, s.RemoteAddr, time.Since(s.CreatedAt).Truncate(time.Second))
	}
	return nil
}

func cmdExit(c *Console, args string) error {
	return ErrExit
}

// save persists settings; a failure is reported but does not undo the change.
func (c *Console) save() {
	if err := c.server.Settings().Save(); err != nil {
		c.output.Warning("settings applied but not saved: %v", err)
	}
}
