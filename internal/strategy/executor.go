package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fractal-lba/adaptive/internal/state"
)

// ErrNoExecutor is returned when neither a dedicated nor a fallback executor exists.
var ErrNoExecutor = errors.New("strategy: no executor registered")

// Request is what an executor receives for one adaptation.
type Request struct {
	Strategy   string         `json:"strategy"`
	Option     string         `json:"option"`
	Context    state.Context  `json:"context"`
	Timestamp  time.Time      `json:"timestamp"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Result is the executor's report, propagated verbatim to the caller of Apply.
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Executor puts a chosen option into effect.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// ExecutorRegistry maps strategy tags to executors. Tags are checked against
// the strategy registry when registered.
type ExecutorRegistry struct {
	mu         sync.RWMutex
	strategies *Registry
	executors  map[string]Executor
	fallback   Executor
}

func NewExecutorRegistry(strategies *Registry) *ExecutorRegistry {
	return &ExecutorRegistry{
		strategies: strategies,
		executors:  make(map[string]Executor),
	}
}

// Register binds exec to a known strategy tag.
func (r *ExecutorRegistry) Register(name string, exec Executor) error {
	if exec == nil {
		return fmt.Errorf("strategy: nil executor for %s", name)
	}
	if !r.strategies.Has(name) {
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = exec
	return nil
}

// SetFallback sets the executor used for known strategies with no dedicated executor.
func (r *ExecutorRegistry) SetFallback(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = exec
}

// Lookup resolves the executor for name.
func (r *ExecutorRegistry) Lookup(name string) (Executor, error) {
	if !r.strategies.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if exec, ok := r.executors[name]; ok {
		return exec, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoExecutor, name)
}

// Execute runs the executor for req.Strategy. Lookup failures, returned
// errors and panics all become a failed Result; err is non-nil in those cases.
func (r *ExecutorRegistry) Execute(ctx context.Context, req Request) (res Result, err error) {
	exec, err := r.Lookup(req.Strategy)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy: executor for %s panicked: %v", req.Strategy, p)
			res = Result{Success: false, Error: err.Error()}
		}
	}()

	res, err = exec.Execute(ctx, req)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Details: res.Details}, err
	}
	return res, nil
}

// Acknowledge is an executor that reports success and echoes the selection.
// Services use it when the behavioural switch happens in the caller.
func Acknowledge() Executor {
	return ExecutorFunc(func(_ context.Context, req Request) (Result, error) {
		return Result{
			Success: true,
			Details: map[string]any{
				"strategy": req.Strategy,
				"option":   req.Option,
				"applied":  req.Timestamp.UTC().Format(time.RFC3339Nano),
			},
		}, nil
	})
}
