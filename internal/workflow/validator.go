package workflow

import (
	"fmt"

	"trellis/internal/workflow/types"
)

// Validator checks action configurations at design time, before a rule is
// saved. Messages are written for rule authors, not operators.
type Validator struct {
	registry *HandlerRegistry
}

// NewValidator creates a validator backed by the handler registry.
func NewValidator(registry *HandlerRegistry) *Validator {
	return &Validator{registry: registry}
}

// ValidateAction checks one action config against its handler. Returns nil
// when the config is acceptable.
func (v *Validator) ValidateAction(actionType, config string) error {
	handler, ok := v.registry.Handler(actionType)
	if !ok {
		return fmt.Errorf("Unknown action type: %s", actionType)
	}
	return validateConfig(handler, config)
}

// ValidateActions checks a rule's actions and returns one message per
// failing action, prefixed with its 1-based position.
func (v *Validator) ValidateActions(actions []types.Action) []string {
	var errs []string
	for i, action := range actions {
		if err := v.ValidateAction(action.ActionType, action.Config); err != nil {
			errs = append(errs, fmt.Sprintf("Action %d: %s", i+1, err.Error()))
		}
	}
	return errs
}

// validateConfig calls the handler's Validate with panic recovery so a
// misbehaving handler reads as a validation error, not a crash.
func validateConfig(handler types.ActionHandler, config string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation failed: %v", r)
		}
	}()
	return handler.Validate(config)
}
