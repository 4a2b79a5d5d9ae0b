// Package command turns the text actions agents type in the world
// ("/share", "/buy", "/rate" and friends) into economy calls.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command represents one slash action.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler is the function signature for command execution.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext identifies who is acting and where.
type CommandContext struct {
	Platform string // "terminal" renders ANSI colours
	AgentID  string
	RoomID   string
}

func (cc *CommandContext) colors() bool { return cc != nil && cc.Platform == "terminal" }

// CommandResult holds the output of a command. Success mirrors the
// success flag agents get back from every world action.
type CommandResult struct {
	Success bool        `json:"success"`
	Content string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func ok(data interface{}, format string, args ...any) *CommandResult {
	return &CommandResult{Success: true, Content: fmt.Sprintf(format, args...), Data: data}
}

func refuse(format string, args ...any) *CommandResult {
	return &CommandResult{Content: fmt.Sprintf(format, args...)}
}

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]string
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
	}
}

// Register adds a command to the registry. A later command with the same
// name replaces the earlier one.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
	for _, a := range cmd.Aliases {
		r.aliases[a] = cmd.Name
	}
}

// Dispatch parses a "/name args" string and executes the matching handler.
// The leading slash is optional. Unknown commands produce an unsuccessful
// result, not an error.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ := strings.Cut(input, " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)

	r.mu.RLock()
	cmd, found := r.commands[name]
	if !found {
		if target, aliased := r.aliases[name]; aliased {
			cmd, found = r.commands[target]
		}
	}
	r.mu.RUnlock()

	if name == "" || !found {
		return refuse("Unknown command: /%s. Type /help for available commands.", name), nil
	}
	return cmd.Handler(ctx, args, cc)
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
