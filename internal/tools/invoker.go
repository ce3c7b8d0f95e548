package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/propfolio/researchd/internal/credits"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/pkg/models"
)

// Ledger is the credit surface the invoker pre-authorizes through.
type Ledger interface {
	Reserve(ctx context.Context, owner credits.Owner, amount int64, actionType, entityID string) (string, error)
	Commit(ctx context.Context, reservationID string) error
	Refund(ctx context.Context, reservationID string) error
}

// Invoker runs the invocation pipeline: resolve, validate, reserve,
// execute, settle.
type Invoker struct {
	registry *Registry
	ledger   Ledger
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// NewInvoker builds an invoker. timeout is the per-tool execution limit.
func NewInvoker(registry *Registry, ledger Ledger, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Invoker {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Invoker{
		registry: registry,
		ledger:   ledger,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Invoke executes one tool choice for a session. Failures come back as
// *InvokeError; the caller records them as failed tool results the model
// sees next turn.
func (inv *Invoker) Invoke(ctx context.Context, choice models.ToolChoice, sessionID string, owner credits.Owner) (*Result, error) {
	tool, ok := inv.registry.Get(choice.Name)
	if !ok {
		return nil, inv.fail(choice.Name, &InvokeError{Kind: KindUnknownTool, Tool: choice.Name})
	}

	if err := inv.validateParams(tool, choice.Parameters); err != nil {
		return nil, inv.fail(choice.Name, &InvokeError{Kind: KindBadParameters, Tool: choice.Name, Cause: err})
	}

	var reservation string
	if cost := tool.Cost(choice.Parameters); cost > 0 {
		id, err := inv.ledger.Reserve(ctx, owner, cost, choice.Name, sessionID)
		if err != nil {
			if errors.Is(err, credits.ErrInsufficient) {
				return nil, inv.fail(choice.Name, &InvokeError{Kind: KindInsufficientCredits, Tool: choice.Name, Cause: err})
			}
			return nil, inv.fail(choice.Name, &InvokeError{Kind: KindExecution, Tool: choice.Name, Cause: err})
		}
		reservation = id
	}

	execCtx, cancel := context.WithTimeout(WithInvocation(ctx, Invocation{SessionID: sessionID, Owner: owner}), inv.timeout)
	start := time.Now()
	result, err := tool.Execute(execCtx, choice.Parameters)
	cancel()
	if inv.metrics != nil {
		inv.metrics.ToolDuration.WithLabelValues(choice.Name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if reservation != "" {
			if refundErr := inv.ledger.Refund(context.WithoutCancel(ctx), reservation); refundErr != nil && inv.logger != nil {
				inv.logger.Error(ctx, "credit refund failed", "tool", choice.Name, "error", refundErr)
			}
		}
		kind := KindExecution
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, inv.fail(choice.Name, &InvokeError{Kind: kind, Tool: choice.Name, Cause: err})
	}

	if reservation != "" {
		if err := inv.ledger.Commit(context.WithoutCancel(ctx), reservation); err != nil && inv.logger != nil {
			inv.logger.Error(ctx, "credit commit failed", "tool", choice.Name, "error", err)
		}
	}
	if inv.metrics != nil {
		inv.metrics.ToolInvocations.WithLabelValues(choice.Name, "success").Inc()
	}
	return result, nil
}

func (inv *Invoker) fail(tool string, err *InvokeError) *InvokeError {
	if inv.metrics != nil {
		inv.metrics.ToolInvocations.WithLabelValues(tool, "error").Inc()
	}
	return err
}

// validateParams checks parameters against the tool's schema. Compiled
// schemas are cached per tool name.
func (inv *Invoker) validateParams(tool Tool, params []byte) error {
	schema, err := inv.compiled(tool)
	if err != nil {
		return err
	}
	if len(params) == 0 {
		params = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(params, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

func (inv *Invoker) compiled(tool Tool) (*jsonschema.Schema, error) {
	inv.schemaMu.Lock()
	defer inv.schemaMu.Unlock()
	if s, ok := inv.schemas[tool.Name()]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	url := tool.Name() + ".schema.json"
	if err := compiler.AddResource(url, strings.NewReader(string(tool.Schema()))); err != nil {
		return nil, err
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	inv.schemas[tool.Name()] = s
	return s, nil
}
