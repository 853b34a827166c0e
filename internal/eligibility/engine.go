// Package eligibility provides the CEL-based eligibility rule engine.
// Clinics define boolean expressions over a patient context; matching
// rules annotate search candidates with whether the patient falls
// inside the population a recommendation was written for.
package eligibility

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Engine compiles and evaluates eligibility rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.EligibilityRule
	Program cel.Program
}

// NewEngine creates a new eligibility rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment with patient context variables
	env, err := cel.NewEnv(
		cel.Variable("patient", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("age", cel.IntType),
		cel.Variable("sex", cel.StringType),
		cel.Variable("pregnant", cel.BoolType),
		cel.Variable("postpartum", cel.BoolType),
		cel.Variable("prior_vte", cel.BoolType),
		cel.Variable("family_history", cel.BoolType),
		cel.Variable("on_estrogen", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.EligibilityRule) error {
	if rule == nil {
		return fmt.Errorf("eligibility rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.EligibilityRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []*domain.EligibilityRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll evaluates all loaded rules against a patient context in parallel.
func (e *Engine) EvaluateAll(ctx context.Context, clinicID string, patient *domain.PatientContext) ([]domain.EligibilityResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := map[string]any{
		"patient": map[string]any{
			"age":            patient.Age,
			"sex":            patient.Sex,
			"pregnant":       patient.Pregnant,
			"postpartum":     patient.Postpartum,
			"prior_vte":      patient.PriorVTE,
			"family_history": patient.FamilyHistory,
			"on_estrogen":    patient.OnEstrogen,
		},
		"age":            int64(patient.Age),
		"sex":            patient.Sex,
		"pregnant":       patient.Pregnant,
		"postpartum":     patient.Postpartum,
		"prior_vte":      patient.PriorVTE,
		"family_history": patient.FamilyHistory,
		"on_estrogen":    patient.OnEstrogen,
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.EligibilityResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, clinicID, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, clinicID string, activation map[string]any) domain.EligibilityResult {
	start := time.Now()

	result := domain.EligibilityResult{
		RuleID:    rule.Rule.ID,
		ClinicID:  clinicID,
		AppliesTo: rule.Rule.AppliesTo,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Reason = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	result.Eligible = toBool(out)
	if result.Eligible {
		result.Reason = rule.Rule.Description
	}
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// toBool converts a CEL value to a boolean.
func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.EligibilityRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rules.
func (e *Engine) GetLoadedRules() []*domain.EligibilityRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.EligibilityRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.EligibilityRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	// Eligibility is a yes/no question: anything but bool is a
	// misconfigured rule.
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
