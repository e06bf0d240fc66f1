package schema

import "fmt"

// ValidationSeverity grades a validation issue. Warnings never block
// registration; errors do.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue points at one problem in a scenario definition. Path is a
// JSON-ish locator into the definition, e.g. "nodes[2].data.text".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult collects the issues found by every stage of the
// validation pipeline.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) add(severity ValidationSeverity, path, code, message string) {
	issue := ValidationIssue{Path: path, Code: code, Message: message, Severity: severity}
	if severity == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.add(SeverityError, path, code, message)
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(SeverityWarning, path, code, message)
}

// Merge folds another result's issues into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Valid reports whether the definition can be registered. Warnings alone
// still validate.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// ToError flattens the result into a definition FlowError, or nil when the
// definition is valid. A single error keeps its own message; several errors
// collapse into a count, with the full issue list in the details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("scenario definition has %d errors", len(r.Errors))
	}
	return NewError(ErrCodeDefinition, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
