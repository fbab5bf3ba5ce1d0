// Package errors provides standardized error messaging for Veyra
package errors

import (
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryMemory     ErrorCategory = "MEMORY"
	CategoryMapping    ErrorCategory = "MAPPING"
	CategoryConfig     ErrorCategory = "CONFIG"
	CategoryBounds     ErrorCategory = "BOUNDS"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategorySystem     ErrorCategory = "SYSTEM"
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
	Cause    error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *StandardError) Unwrap() error { return e.Cause }

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// Common error constructors

// MappingFailed reports an OS-level refusal to reserve or alias a range.
// Callers treat it as "disable the JIT for this process".
func MappingFailed(name string, cause error) *StandardError {
	e := NewStandardError(CategoryMapping, "MAPPING_FAILED",
		fmt.Sprintf("Failed to reserve memory mapping %q: %v", name, cause),
		map[string]interface{}{"mapping": name})
	e.Cause = cause
	return e
}

// DualViewUnavailable reports that a write-xor-execute alias pair could not
// be created and no fallback was permitted.
func DualViewUnavailable(name string, cause error) *StandardError {
	e := NewStandardError(CategoryMapping, "DUAL_VIEW_UNAVAILABLE",
		fmt.Sprintf("Failed to initialize dual view for %q: %v", name, cause),
		map[string]interface{}{"mapping": name})
	e.Cause = cause
	return e
}

// InvalidCapacity reports inconsistent capacity bounds.
func InvalidCapacity(initial, max uintptr) *StandardError {
	return NewStandardError(CategoryConfig, "INVALID_CAPACITY",
		fmt.Sprintf("Initial capacity %d exceeds max capacity %d", initial, max),
		map[string]interface{}{"initial": initial, "max": max})
}

// ConfigInvalid reports a rejected policy file.
func ConfigInvalid(field, reason string) *StandardError {
	return NewStandardError(CategoryConfig, "CONFIG_INVALID",
		fmt.Sprintf("Invalid policy field %s: %s", field, reason),
		map[string]interface{}{"field": field, "reason": reason})
}

// PointerOutOfRange reports an address outside the view that should own it.
func PointerOutOfRange(ptr uintptr, view string) *StandardError {
	return NewStandardError(CategoryBounds, "POINTER_OUT_OF_RANGE",
		fmt.Sprintf("Pointer %#x outside %s view", ptr, view),
		map[string]interface{}{"pointer": ptr, "view": view})
}

// InvalidSize reports a nonsensical allocation request.
func InvalidSize(size uintptr, context string) *StandardError {
	return NewStandardError(CategoryValidation, "INVALID_SIZE",
		fmt.Sprintf("Invalid size %d in %s", size, context),
		map[string]interface{}{"size": size, "context": context})
}
