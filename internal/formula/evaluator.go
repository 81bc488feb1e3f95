// Package formula evaluates boolean filter formulas against record data.
package formula

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/cel-go/cel"
)

var celNewEnv = cel.NewEnv

// MaxCacheSize is the maximum number of CEL programs to cache.
const MaxCacheSize = 1000

// Evaluator decides whether a record matches a filter formula.
type Evaluator interface {
	EvaluateBool(ctx context.Context, expr string, data map[string]any) (bool, error)
}

// celEvaluator implements Evaluator using Google CEL.
type celEvaluator struct {
	env        *cel.Env
	prgCache   map[string]cel.Program
	cacheOrder []string // Track insertion order for simple FIFO eviction
	cacheMutex sync.RWMutex
}

func NewEvaluator() (Evaluator, error) {
	env, err := celNewEnv()
	if err != nil {
		return nil, err
	}

	return &celEvaluator{
		env:        env,
		prgCache:   make(map[string]cel.Program),
		cacheOrder: make([]string, 0, MaxCacheSize),
	}, nil
}

// EvaluateBool evaluates expr against the record's data. Formulas name
// record fields directly ("total > 100"), so identifiers are resolved at
// evaluation time rather than declared up front.
func (e *celEvaluator) EvaluateBool(ctx context.Context, expr string, data map[string]any) (bool, error) {
	prg, err := e.getProgram(expr)
	if err != nil {
		return false, fmt.Errorf("failed to get CEL program: %w", err)
	}

	if data == nil {
		data = map[string]any{}
	}

	out, _, err := prg.ContextEval(ctx, data)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter formula must return boolean, got %T", out.Value())
	}

	return match, nil
}

func (e *celEvaluator) getProgram(expr string) (cel.Program, error) {
	e.cacheMutex.RLock()
	prg, ok := e.prgCache[expr]
	e.cacheMutex.RUnlock()
	if ok {
		return prg, nil
	}

	e.cacheMutex.Lock()
	defer e.cacheMutex.Unlock()

	// Double check
	if prg, ok := e.prgCache[expr]; ok {
		return prg, nil
	}

	// Parse only, no type check: the record schema is tenant-defined, so
	// the checker has no declarations to work with. Unknown identifiers
	// surface as evaluation errors instead.
	ast, issues := e.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}

	// Evict oldest entry if cache is full (simple FIFO)
	if len(e.prgCache) >= MaxCacheSize {
		oldest := e.cacheOrder[0]
		delete(e.prgCache, oldest)
		e.cacheOrder = e.cacheOrder[1:]
		log.Printf("[Info] CEL cache full, evicted oldest entry")
	}

	e.prgCache[expr] = prg
	e.cacheOrder = append(e.cacheOrder, expr)
	return prg, nil
}
