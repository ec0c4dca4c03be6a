// Package dispatch exposes the analytics operations behind a uniform
// name-plus-parameters calling surface. Parameter validation happens here,
// before any store access, so a bad call never costs a query.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	engerr "github.com/sloscope/sloscope/pkg/errors"
	"github.com/sloscope/sloscope/pkg/telemetry"
)

// ParamType constrains the JSON type of an operation parameter.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeInt        ParamType = "integer"
	TypeFloat      ParamType = "number"
	TypeStringList ParamType = "string_list"
)

// Param declares one operation parameter. Optional parameters with a nil
// Default are passed through as absent and the handler applies its own
// fallback.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     any
}

// Handler executes one operation against already-validated arguments.
type Handler func(ctx context.Context, args Args) (any, error)

// Operation is one named entry in the dispatch registry.
type Operation struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Args holds validated, type-coerced arguments. Getters assume validation
// ran; they never re-check types.
type Args map[string]any

// Str returns a string argument, or "" when absent.
func (a Args) Str(name string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return ""
}

// Int returns an integer argument, or def when absent.
func (a Args) Int(name string, def int) int {
	if v, ok := a[name].(int); ok {
		return v
	}
	return def
}

// Float returns a numeric argument, or def when absent.
func (a Args) Float(name string, def float64) float64 {
	if v, ok := a[name].(float64); ok {
		return v
	}
	return def
}

// StrList returns a string-list argument, or nil when absent.
func (a Args) StrList(name string) []string {
	if v, ok := a[name].([]string); ok {
		return v
	}
	return nil
}

// Dispatcher routes calls to registered operations. Registration happens at
// startup; Dispatch is safe for concurrent use afterwards.
type Dispatcher struct {
	ops     map[string]*Operation
	metrics *telemetry.EngineMetrics
	tracer  trace.Tracer
}

// NewDispatcher builds an empty dispatcher. metrics may be nil.
func NewDispatcher(metrics *telemetry.EngineMetrics) *Dispatcher {
	return &Dispatcher{
		ops:     make(map[string]*Operation),
		metrics: metrics,
		tracer:  otel.Tracer("sloscope/dispatch"),
	}
}

// Register adds an operation. Duplicate names are a programming error and
// panic at startup.
func (d *Dispatcher) Register(op Operation) {
	if op.Name == "" || op.Handler == nil {
		panic("dispatch: operation needs a name and a handler")
	}
	if _, exists := d.ops[op.Name]; exists {
		panic("dispatch: duplicate operation " + op.Name)
	}
	d.ops[op.Name] = &op
}

// Operations returns the registry sorted by name, for server exposure and
// introspection.
func (d *Dispatcher) Operations() []*Operation {
	ops := make([]*Operation, 0, len(d.ops))
	for _, op := range d.ops {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
	return ops
}

// Dispatch validates arguments and runs the named operation. Identical
// calls against an unchanged store return identical results; dispatch adds
// no hidden state.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, raw map[string]any) (any, error) {
	requestID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "dispatch."+name,
		trace.WithAttributes(
			attribute.String("operation", name),
			attribute.String("request_id", requestID),
		))
	defer span.End()

	op, ok := d.ops[name]
	if !ok {
		err := engerr.New(engerr.CodeNotFound,
			fmt.Sprintf("unknown operation %q", name), nil)
		d.finish(ctx, span, name, requestID, time.Now(), err)
		return nil, err
	}

	args, err := validateArgs(op, raw)
	if err != nil {
		d.finish(ctx, span, name, requestID, time.Now(), err)
		return nil, err
	}

	start := time.Now()
	result, err := op.Handler(ctx, args)
	d.finish(ctx, span, name, requestID, start, err)
	return result, err
}

func (d *Dispatcher) finish(ctx context.Context, span trace.Span, name, requestID string, start time.Time, err error) {
	elapsed := time.Since(start)
	d.metrics.RecordDispatch(ctx, name, err)
	if err != nil {
		code := engerr.CodeOf(err)
		d.metrics.RecordError(ctx, string(code))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		slog.ErrorContext(ctx, "operation failed",
			"operation", name, "request_id", requestID,
			"code", string(code), "error", err, "elapsed", elapsed)
		return
	}
	slog.DebugContext(ctx, "operation complete",
		"operation", name, "request_id", requestID, "elapsed", elapsed)
}

// validateArgs checks raw arguments against the operation's declared
// parameters and returns the coerced set. Unknown argument names are
// rejected so typos fail loudly instead of silently hitting defaults.
func validateArgs(op *Operation, raw map[string]any) (Args, error) {
	declared := make(map[string]*Param, len(op.Params))
	for i := range op.Params {
		declared[op.Params[i].Name] = &op.Params[i]
	}
	for name := range raw {
		if _, ok := declared[name]; !ok {
			return nil, engerr.New(engerr.CodeInvalidParameters,
				fmt.Sprintf("unknown parameter %q for operation %q", name, op.Name), nil)
		}
	}

	args := make(Args, len(op.Params))
	for _, p := range op.Params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, engerr.New(engerr.CodeInvalidParameters,
					fmt.Sprintf("missing required parameter %q", p.Name), nil).
					WithContext("operation", op.Name)
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		coerced, err := coerce(&p, v)
		if err != nil {
			return nil, err
		}
		args[p.Name] = coerced
	}
	return args, nil
}

// coerce converts a decoded JSON value to the parameter's Go type. JSON
// numbers decode as float64; integral floats are accepted for integer
// parameters, fractional ones are not.
func coerce(p *Param, v any) (any, error) {
	bad := func(want string) error {
		return engerr.New(engerr.CodeInvalidParameters,
			fmt.Sprintf("parameter %q must be a %s", p.Name, want), nil).
			WithContext("got", fmt.Sprintf("%T", v))
	}

	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, bad("string")
		}
		return s, nil

	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, bad("whole number")
			}
			return int(n), nil
		}
		return nil, bad("whole number")

	case TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, bad("number")

	case TypeStringList:
		switch list := v.(type) {
		case []string:
			return list, nil
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, bad("list of strings")
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, bad("list of strings")
	}
	return nil, engerr.New(engerr.CodeInternal,
		fmt.Sprintf("operation declares unsupported parameter type %q", p.Type), nil)
}

// requirePositive rejects zero and negative limits after coercion. Handlers
// that treat 0 as "use default" declare the parameter with a Default
// instead.
func requirePositive(name string, v int) error {
	if v <= 0 {
		return engerr.New(engerr.CodeInvalidParameters,
			fmt.Sprintf("parameter %q must be positive", name), nil)
	}
	return nil
}
