package engine

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const eligibilityQuery = "data.phone.eligibility"

// DefaultRegoPolicy accepts scores up to the configured maximum and treats a number as registered
// while its registration is younger than the recency window but older than the grace window.
const DefaultRegoPolicy = `package phone.eligibility

default is_safe := false
default is_registered := false

is_safe if {
	input.fraud_score <= input.max_fraud_score
}

is_registered if {
	input.registration.exists
	input.registration.age_ms < input.recency_ms
	not within_grace
}

within_grace if {
	input.grace_ms > 0
	input.registration.age_ms < input.grace_ms
}
`

// OPAEvaluator evaluates the eligibility policy using OPA Rego. The policy is compiled once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or DefaultRegoPolicy when policy is empty.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"eligibility.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile eligibility policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(eligibilityQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare eligibility policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// LoadPolicyFile reads a Rego policy from path. An empty path returns the default policy.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return DefaultRegoPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read eligibility policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck verifies that the compiled policy evaluates against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"fraud_score":     0,
		"max_fraud_score": 0,
		"recency_ms":      0,
		"grace_ms":        0,
		"registration":    map[string]interface{}{"exists": false, "age_ms": 0},
	}))
	if err != nil {
		return fmt.Errorf("eval eligibility policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateEligibility evaluates the policy. If evaluation fails it logs and falls back to the
// built-in rule.
func (e *OPAEvaluator) EvaluateEligibility(ctx context.Context, in EligibilityInput) (EligibilityResult, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		log.Printf("policy: eligibility evaluation failed: %v, using defaults", err)
		return defaultResult(in), nil
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		log.Printf("policy: eligibility query returned no result, using defaults")
		return defaultResult(in), nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		log.Printf("policy: eligibility document has type %T, using defaults", rs[0].Expressions[0].Value)
		return defaultResult(in), nil
	}
	out := EligibilityResult{}
	if v, ok := doc["is_safe"].(bool); ok {
		out.IsSafe = v
	}
	if v, ok := doc["is_registered"].(bool); ok {
		out.IsRegistered = v
	}
	return out, nil
}

func buildInput(in EligibilityInput) map[string]interface{} {
	registration := map[string]interface{}{
		"exists": false,
		"age_ms": int64(0),
	}
	if in.Registration != nil {
		registration["exists"] = true
		registration["age_ms"] = in.Now.Sub(in.Registration.InsertedAt).Milliseconds()
	}
	return map[string]interface{}{
		"fraud_score":     in.FraudScore,
		"max_fraud_score": in.MaxFraudScore,
		"recency_ms":      in.Recency.Milliseconds(),
		"grace_ms":        in.Grace.Milliseconds(),
		"registration":    registration,
	}
}

func defaultResult(in EligibilityInput) EligibilityResult {
	return EligibilityResult{
		IsSafe:       in.FraudScore <= float64(in.MaxFraudScore),
		IsRegistered: in.Registration.RegisteredWithin(in.Now, in.Recency, in.Grace),
	}
}
