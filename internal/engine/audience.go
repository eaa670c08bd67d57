package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/utafrali/campaign-engine/internal/domain"
)

// AudienceEvaluator compiles and runs the CEL expressions of CUSTOM
// audiences. Compiled programs are cached by expression text.
//
// Expressions see these variables:
//
//	order_count       int
//	total_spent       double
//	account_age_days  int
//	segments          list(string)
//	order_total       double
//	tenancy_id        string
type AudienceEvaluator struct {
	env      *cel.Env
	programs sync.Map // expression -> cel.Program
}

// NewAudienceEvaluator builds the CEL environment.
func NewAudienceEvaluator() (*AudienceEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("order_count", cel.IntType),
		cel.Variable("total_spent", cel.DoubleType),
		cel.Variable("account_age_days", cel.IntType),
		cel.Variable("segments", cel.ListType(cel.StringType)),
		cel.Variable("order_total", cel.DoubleType),
		cel.Variable("tenancy_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &AudienceEvaluator{env: env}, nil
}

// Compile checks that expr is a valid boolean expression and caches it.
func (a *AudienceEvaluator) Compile(expr string) (cel.Program, error) {
	if p, ok := a.programs.Load(expr); ok {
		return p.(cel.Program), nil
	}
	ast, iss := a.env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile audience expression: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("audience expression must be boolean, got %s", ast.OutputType())
	}
	prg, err := a.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build audience program: %w", err)
	}
	a.programs.Store(expr, prg)
	return prg, nil
}

// Matches runs expr against the shopper. An empty expression matches.
func (a *AudienceEvaluator) Matches(expr string, in AudienceInput) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := a.Compile(expr)
	if err != nil {
		return false, err
	}
	total, _ := in.Order.Total.Float64()
	spent, _ := in.User.TotalSpent.Float64()
	segments := in.User.Segments
	if segments == nil {
		segments = []string{}
	}

	out, _, err := prg.Eval(map[string]any{
		"order_count":      int64(in.User.OrderCount),
		"total_spent":      spent,
		"account_age_days": int64(in.User.AccountAgeDays(in.Now)),
		"segments":         segments,
		"order_total":      total,
		"tenancy_id":       in.TenancyID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate audience expression: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("audience expression returned %T", out.Value())
	}
	return ok, nil
}

// AudienceInput is the data an audience expression is evaluated against.
type AudienceInput struct {
	TenancyID string
	User      domain.UserContext
	Order     domain.OrderSnapshot
	Now       time.Time
}
