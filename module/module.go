// Package module defines the contract between the bot and its command
// modules, and dispatches commands and periodic updates to them.
package module

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zephyrtronium/bluebot/mailbox"
	"github.com/zephyrtronium/bluebot/message"
)

// Module is a unit of bot behavior.
//
// Handle and Update communicate only by writing to the module's output
// mailbox. Neither should block for long; they run on the bot's loop.
type Module interface {
	// Name is the name of the module for diagnostics.
	Name() string
	// Commands is the list of command names the module handles.
	Commands() []string
	// Handle executes a command whose name is among Commands.
	Handle(ctx context.Context, cmd *message.Command) error
	// Update performs periodic work. It is called on every tick.
	Update(ctx context.Context) error
	// Output is the module's output mailbox.
	Output() *mailbox.Mailbox
}

// Descriptor is the registry's record of a module.
type Descriptor struct {
	// Name is the module name.
	Name string
	// Commands is the set of command names the module handles.
	Commands map[string]bool
	// Handle executes a command. It may be nil if the module handles no
	// commands.
	Handle func(ctx context.Context, cmd *message.Command) error
	// Update performs periodic work. It may be nil.
	Update func(ctx context.Context) error
	// Output is the module's output mailbox.
	Output *mailbox.Mailbox
}

// Describe creates a descriptor for a module.
func Describe(m Module) Descriptor {
	cmds := m.Commands()
	d := Descriptor{
		Name:     m.Name(),
		Commands: make(map[string]bool, len(cmds)),
		Handle:   m.Handle,
		Update:   m.Update,
		Output:   m.Output(),
	}
	for _, c := range cmds {
		d.Commands[c] = true
	}
	return d
}

// Error is a failure of a module operation.
type Error struct {
	// Module is the name of the module which failed.
	Module string
	// Op is the operation which failed, either "update" or "handle".
	Op string
	// Err is the failure.
	Err error
	// Panic is the value recovered if the module panicked.
	Panic any
}

func (e *Error) Error() string {
	return fmt.Sprintf("module %s: %s: %v", e.Module, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Offer hands text to the outbound gate. The result reports whether the text
// was sent. An error means the connection is unusable.
type Offer func(ctx context.Context, text string) (bool, error)

// Registry is an ordered, fixed list of modules.
type Registry struct {
	mods []Descriptor
	log  *slog.Logger
}

// NewRegistry creates a registry of descriptors in dispatch order.
// If log is nil, the default logger is used.
func NewRegistry(log *slog.Logger, mods ...Descriptor) *Registry {
	if log == nil {
		log = slog.Default()
	}
	for i := range mods {
		if mods[i].Output == nil {
			mods[i].Output = new(mailbox.Mailbox)
		}
	}
	return &Registry{mods: mods, log: log}
}

// Register creates a registry from modules in dispatch order.
func Register(log *slog.Logger, mods ...Module) *Registry {
	d := make([]Descriptor, len(mods))
	for i, m := range mods {
		d[i] = Describe(m)
	}
	return NewRegistry(log, d...)
}

// Handles reports whether any module handles the named command.
func (r *Registry) Handles(name string) bool {
	for _, d := range r.mods {
		if d.Commands[name] {
			return true
		}
	}
	return false
}

// Names returns the names of the registered modules in order.
func (r *Registry) Names() []string {
	s := make([]string, len(r.mods))
	for i, d := range r.mods {
		s[i] = d.Name
	}
	return s
}

// Tick runs one round of module work. Every module's update hook runs, then
// every updated mailbox is offered to the gate. If cmd is not nil, every
// module handling its name then executes it, and each that succeeds has its
// mailbox offered.
//
// A mailbox is consumed when it is offered, whether or not the text is sent.
// Module failures, including panics, are logged and returned but do not stop
// the tick. The returned error is non-nil only if offer fails.
func (r *Registry) Tick(ctx context.Context, cmd *message.Command, offer Offer) ([]*Error, error) {
	var faults []*Error
	for _, d := range r.mods {
		if d.Update == nil {
			continue
		}
		if err := r.invoke(ctx, d, "update", d.Update); err != nil {
			faults = append(faults, err)
		}
	}
	for _, d := range r.mods {
		if err := r.drain(ctx, d, offer); err != nil {
			return faults, err
		}
	}
	if cmd == nil {
		return faults, nil
	}
	for _, d := range r.mods {
		if !d.Commands[cmd.Name] || d.Handle == nil {
			continue
		}
		err := r.invoke(ctx, d, "handle", func(ctx context.Context) error { return d.Handle(ctx, cmd) })
		if err != nil {
			faults = append(faults, err)
			continue
		}
		if err := r.drain(ctx, d, offer); err != nil {
			return faults, err
		}
	}
	return faults, nil
}

// invoke calls f inside the module fault boundary.
func (r *Registry) invoke(ctx context.Context, d Descriptor, op string, f func(context.Context) error) (fault *Error) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		fault = &Error{Module: d.Name, Op: op, Err: fmt.Errorf("panic: %v", p), Panic: p}
		r.log.ErrorContext(ctx, "module panicked", slog.String("module", d.Name), slog.String("op", op), slog.Any("panic", p))
	}()
	if err := f(ctx); err != nil {
		r.log.ErrorContext(ctx, "module failed", slog.String("module", d.Name), slog.String("op", op), slog.Any("err", err))
		return &Error{Module: d.Name, Op: op, Err: err}
	}
	return nil
}

func (r *Registry) drain(ctx context.Context, d Descriptor, offer Offer) error {
	text, ok := d.Output.Take()
	if !ok || text == "" {
		return nil
	}
	sent, err := offer(ctx, text)
	if err != nil {
		return fmt.Errorf("couldn't send output of module %s: %w", d.Name, err)
	}
	if !sent {
		r.log.DebugContext(ctx, "dropped module output", slog.String("module", d.Name), slog.String("text", text))
	}
	return nil
}
