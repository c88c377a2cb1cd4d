package rawrecord

import (
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator caches compiled JMESPath expressions.
type Evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

var defaultEvaluator = NewEvaluator()

// Evaluate runs expression against data.
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

func (e *Evaluator) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	compiled, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}

// Search evaluates a JMESPath expression against the record. Keys containing ':' such as
// "_nested:fungarium__bestimmung" must be quoted in the expression.
func (r Record) Search(expression string) (Record, error) {
	result, err := defaultEvaluator.Evaluate(expression, r.value)
	if err != nil {
		return Record{}, err
	}
	return Record{value: result}, nil
}

// Strings evaluates expression and returns the non-empty string results, flattening one level.
func (r Record) Strings(expression string) ([]string, error) {
	result, err := r.Search(expression)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, item := range result.List() {
		if s, ok := item.String(); ok {
			out = append(out, s)
			continue
		}
		for _, nested := range item.List() {
			if s, ok := nested.String(); ok {
				out = append(out, s)
			}
		}
	}
	if s, ok := result.String(); ok {
		out = append(out, s)
	}
	return out, nil
}
