package memory

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/francescomaiomascio/yai/pkg/canonicalize"
)

// AccessPolicy decides which agents may see a memory and what they see.
// Implementations must be safe for concurrent use and must not mutate the
// payload they are given.
type AccessPolicy interface {
	IsAllowed(agentID string) bool
	FilterPayload(payload map[string]any) map[string]any
}

// OpenPolicy admits every agent and shows the full payload.
type OpenPolicy struct{}

func (OpenPolicy) IsAllowed(string) bool { return true }

func (OpenPolicy) FilterPayload(p map[string]any) map[string]any {
	return canonicalize.CloneMap(p)
}

// FieldFilter keeps only the listed top-level payload keys. An empty filter keeps all.
type FieldFilter []string

func (f FieldFilter) apply(p map[string]any) map[string]any {
	if len(f) == 0 {
		return canonicalize.CloneMap(p)
	}
	out := make(map[string]any, len(f))
	for _, k := range f {
		if v, ok := p[k]; ok {
			out[k] = canonicalize.Clone(v)
		}
	}
	return out
}

// Redacted admits every agent but exposes only Fields.
type Redacted struct {
	Fields FieldFilter
}

func (Redacted) IsAllowed(string) bool { return true }

func (r Redacted) FilterPayload(p map[string]any) map[string]any { return r.Fields.apply(p) }

// AllowList admits a fixed set of agents.
type AllowList struct {
	agents map[string]struct{}
	fields FieldFilter
}

// NewAllowList admits agents and exposes fields (all when empty).
func NewAllowList(agents []string, fields []string) *AllowList {
	set := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		set[a] = struct{}{}
	}
	return &AllowList{agents: set, fields: append(FieldFilter(nil), fields...)}
}

func (a *AllowList) IsAllowed(agentID string) bool {
	_, ok := a.agents[agentID]
	return ok
}

func (a *AllowList) FilterPayload(p map[string]any) map[string]any { return a.fields.apply(p) }

var (
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func policyEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("agent", cel.StringType),
		)
	})
	return celEnv, celEnvErr
}

// CELPolicy admits agents for which a boolean CEL expression over `agent`
// holds, e.g. `agent.startsWith("planner-") || agent == "auditor"`.
// Evaluation errors deny.
type CELPolicy struct {
	expr    string
	program cel.Program
	fields  FieldFilter
}

// NewCELPolicy compiles expr. fields restricts the visible payload keys.
func NewCELPolicy(expr string, fields []string) (*CELPolicy, error) {
	env, err := policyEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("access expression must be boolean, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &CELPolicy{expr: expr, program: prg, fields: append(FieldFilter(nil), fields...)}, nil
}

// Expression returns the source expression.
func (p *CELPolicy) Expression() string { return p.expr }

func (p *CELPolicy) IsAllowed(agentID string) bool {
	out, _, err := p.program.Eval(map[string]any{"agent": agentID})
	if err != nil {
		slog.Default().Warn("memory access policy evaluation failed", "expr", p.expr, "agent", agentID, "error", err)
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}

func (p *CELPolicy) FilterPayload(payload map[string]any) map[string]any {
	return p.fields.apply(payload)
}
