// Package dispatch turns an inbound call into a command run: it resolves the
// endpoint, substitutes caller parameters into the command template, applies
// the metacharacter denylist and executes the result.
//
// Dispatch-time failures never surface as Go errors. They are folded into a
// Result tagged with a Kind so the HTTP layer can always answer with a
// structured body. Only resolution (and the storage behind it) returns an
// error.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/alessio/shellescape"
	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/harrylevesque/controlx/internal/metrics"
	"github.com/harrylevesque/controlx/internal/models"
)

// Mode selects how templates become processes.
type Mode string

const (
	// ModeShell renders a quoted command line and runs it with "sh -c".
	ModeShell Mode = "shell"
	// ModeDirect splits the template into words and executes argv without a shell.
	ModeDirect Mode = "direct"
)

// ParseMode validates a configured execution mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeShell:
		return ModeShell, nil
	case ModeDirect:
		return ModeDirect, nil
	default:
		return "", fmt.Errorf("unknown exec mode %q (want shell or direct)", s)
	}
}

// Registry is the read side of the endpoint store. Lookup returns nil and no
// error when nothing is bound to the route and method.
type Registry interface {
	Lookup(ctx context.Context, route, method string) (*models.Endpoint, error)
}

// ResolutionError reports that no endpoint is bound to a route and method.
type ResolutionError struct {
	Method string
	Route  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("No endpoint found for %s %s", e.Method, e.Route)
}

// Result is the outcome of running one endpoint.
type Result struct {
	Kind     Kind
	Endpoint *models.Endpoint
	Command  string
	Output   []string
	Stderr   string
	ExitCode int
	Err      error
	Duration time.Duration
}

// Response is the body returned for a command that ran.
type Response struct {
	Command string   `json:"command"`
	Output  []string `json:"output"`
	Error   string   `json:"error"`
}

// ErrorResponse is the body returned when a command could not run.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Payload returns the JSON body describing r.
func (r Result) Payload() any {
	switch r.Kind {
	case KindOK:
		return Response{Command: r.Command, Output: r.lines(), Error: r.Stderr}
	case KindTimeout:
		msg := r.Err.Error()
		if r.Stderr != "" {
			msg = r.Stderr + "\n" + msg
		}
		return Response{Command: r.Command, Output: r.lines(), Error: msg}
	default:
		return ErrorResponse{Error: r.Err.Error()}
	}
}

func (r Result) lines() []string {
	if r.Output == nil {
		return []string{}
	}
	return r.Output
}

// Dispatcher resolves and runs endpoints. It holds no mutable state and is
// safe for concurrent use.
type Dispatcher struct {
	registry Registry
	executor Executor
	mode     Mode
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMode sets the execution mode. The default is ModeShell.
func WithMode(m Mode) Option {
	return func(d *Dispatcher) {
		d.mode = m
	}
}

// New builds a Dispatcher reading from registry and running commands with executor.
func New(registry Registry, executor Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		executor: executor,
		mode:     ModeShell,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Mode reports the execution mode in use.
func (d *Dispatcher) Mode() Mode {
	return d.mode
}

// Resolve finds the endpoint bound to route and method. Both must match
// exactly; only a missing leading slash is added to route.
func (d *Dispatcher) Resolve(ctx context.Context, route, method string) (*models.Endpoint, error) {
	route = models.RoutePath(route)
	method = strings.ToUpper(method)
	ep, err := d.registry.Lookup(ctx, route, method)
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", method, route, err)
	}
	if ep == nil {
		return nil, &ResolutionError{Method: method, Route: route}
	}
	return ep, nil
}

// Dispatch resolves route and method and runs the endpoint with params. The
// returned error is non-nil only when resolution fails.
func (d *Dispatcher) Dispatch(ctx context.Context, route, method string, params map[string]any) (Result, error) {
	ep, err := d.Resolve(ctx, route, method)
	if err != nil {
		return Result{}, err
	}
	return d.Run(ctx, ep, params), nil
}

// Prepare renders ep's command with params into an Invocation without
// running it.
func (d *Dispatcher) Prepare(ep *models.Endpoint, params map[string]any) (Invocation, error) {
	var inv Invocation
	switch d.mode {
	case ModeDirect:
		args, err := RenderArgs(ep.Command, params)
		if err != nil {
			return Invocation{}, err
		}
		inv.Args = args
		inv.Command = shellescape.QuoteCommand(args)
	default:
		command, err := Render(ep.Command, params, Quote)
		if err != nil {
			return Invocation{}, err
		}
		if err := Validate(command); err != nil {
			return Invocation{}, err
		}
		inv.Command = command
	}
	if env := ep.DisplayEnv(); env != "" {
		inv.Env = []string{env}
	}
	return inv, nil
}

// Run executes ep with params and returns the tagged outcome.
func (d *Dispatcher) Run(ctx context.Context, ep *models.Endpoint, params map[string]any) Result {
	start := time.Now()
	res := Result{Endpoint: ep, ExitCode: -1}

	inv, err := d.Prepare(ep, params)
	if err == nil {
		res.Command = inv.Command
		var out Output
		out, err = d.executor.Execute(ctx, inv)
		res.Output = SplitLines(trimSpace(out.Stdout))
		res.Stderr = trimSpace(out.Stderr)
		res.ExitCode = out.ExitCode
	}
	res.Err = err
	res.Kind = kindOf(err)
	res.Duration = time.Since(start)

	metrics.Get().ObserveDispatch(res.Kind.String(), res.Duration)

	log := zerolog.Ctx(ctx)
	evt := log.Info()
	if res.Kind != KindOK {
		evt = log.Warn().Err(res.Err)
	}
	evt.Str("endpoint", ep.Name).
		Str("route", ep.Route).
		Str("method", ep.Method).
		Str("kind", res.Kind.String()).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("endpoint dispatched")

	return res
}

// RenderArgs splits tmpl into words and renders each one with raw parameter
// values. Shell operators are refused since no shell will interpret them.
func RenderArgs(tmpl string, params map[string]any) ([]string, error) {
	parser := shellwords.NewParser()
	words, err := parser.Parse(tmpl)
	if err != nil {
		return nil, &TemplateError{Message: err.Error()}
	}
	if parser.Position >= 0 {
		return nil, &TemplateError{Message: "shell operators are not supported in direct mode"}
	}
	if len(words) == 0 {
		return nil, &TemplateError{Message: "empty command"}
	}
	args := make([]string, len(words))
	for i, w := range words {
		if args[i], err = Render(w, params, Raw); err != nil {
			return nil, err
		}
	}
	return args, nil
}

// trimSpace strips leading and trailing whitespace, counting the
// \x1c-\x1f separators as whitespace too.
func trimSpace(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
	})
}

// SplitLines breaks text on line boundaries (\n, \r\n, \r and the other
// Unicode line separators). Empty text yields no lines; a trailing newline
// does not add an empty line.
func SplitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := []string{}
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '\r':
			lines = append(lines, string(runes[start:i]))
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			start = i + 1
		case '\n', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
			lines = append(lines, string(runes[start:i]))
			start = i + 1
		}
	}
	if start < len(runes) {
		lines = append(lines, string(runes[start:]))
	}
	return lines
}
