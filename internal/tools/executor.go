package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AuditRecord is the structured trace of one tool invocation. Every
// dispatch emits exactly one.
type AuditRecord struct {
	Tool       string `json:"tool"`
	ArgsDigest string `json:"args_digest"`
	DurationMs int64  `json:"duration_ms"`
	// Outcome is one of ok, error, timeout, denied, cancelled.
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// AuditFunc receives audit records; wired to the audit log by the
// orchestrator.
type AuditFunc func(AuditRecord)

// Executor dispatches registry tools with a per-call wall-clock timeout and
// a mandatory audit record per invocation.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	audit    AuditFunc
	logger   *zap.Logger
}

// NewExecutor wraps the registry. timeout defaults to 30s; audit may be nil.
func NewExecutor(registry *Registry, timeout time.Duration, audit AuditFunc, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		audit:    audit,
		logger:   logger.Named("executor"),
	}
}

// Registry returns the underlying registry.
func (e *Executor) Registry() *Registry { return e.registry }

// Names returns the registered tool names.
func (e *Executor) Names() []string { return e.registry.Names() }

// Has reports whether name is dispatchable.
func (e *Executor) Has(name string) bool { return e.registry.Has(name) }

// Execute runs the named tool under the per-call timeout. The returned
// error wraps the typed sentinels: ErrTimeout, ErrDenied, ErrBadArgs, or a
// plain failure. Cancellation of ctx aborts the wait; the audit record
// still fires.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := e.registry.Get(name)
	if tool == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			err := MissingArgError(required)
			e.emit(name, args, 0, err)
			return "", err
		}
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		observation string
		err         error
	}
	done := make(chan outcome, 1)
	go func() {
		obs, err := tool.Execute(execCtx, args)
		done <- outcome{observation: obs, err: err}
	}()

	var obs string
	var err error
	select {
	case o := <-done:
		obs, err = o.observation, o.err
		if err != nil && execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %s after %s", ErrTimeout, name, e.timeout)
		}
	case <-execCtx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w: %s after %s", ErrTimeout, name, e.timeout)
		}
	}

	duration := time.Since(start)
	e.emit(name, args, duration.Milliseconds(), err)
	e.logger.Debug("tool executed",
		zap.String("tool", name),
		zap.Duration("duration", duration),
		zap.Bool("success", err == nil))
	return obs, err
}

// emit fires the audit record for one invocation.
func (e *Executor) emit(name string, args map[string]any, durationMs int64, err error) {
	if e.audit == nil {
		return
	}
	rec := AuditRecord{
		Tool:       name,
		ArgsDigest: DigestArgs(args),
		DurationMs: durationMs,
		Outcome:    classifyOutcome(err),
	}
	if err != nil {
		rec.Detail = err.Error()
	}
	e.audit(rec)
}

func classifyOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// DigestArgs returns a short stable digest of the argument object, so audit
// logs never carry raw argument payloads.
func DigestArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprint(args))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
