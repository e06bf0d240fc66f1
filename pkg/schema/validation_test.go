package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResultSeverities(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())

	r.AddWarning("nodes[1].data.duration", ErrCodeValidation, "long delay duration")
	assert.True(t, r.Valid(), "warnings alone keep the result valid")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Nil(t, r.ToError())

	r.AddError("nodes[0].data", ErrCodeValidation, "node payload invalid")
	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "nodes[0].data", r.Errors[0].Path)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResultMerge(t *testing.T) {
	structural := &ValidationResult{}
	structural.AddError("startNodeId", ErrCodeDefinition, "start node missing")

	semantic := &ValidationResult{}
	semantic.AddError("edges[0].target", ErrCodeDefinition, "unknown target")
	semantic.AddWarning("nodes[3]", ErrCodeDefinition, "unreachable node")

	structural.Merge(semantic)
	structural.Merge(nil)

	assert.Len(t, structural.Errors, 2)
	assert.Len(t, structural.Warnings, 1)
}

func TestValidationResultToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("nodes[0].data", ErrCodeValidation, "node payload invalid")

	var flowErr *FlowError
	require.ErrorAs(t, r.ToError(), &flowErr)
	assert.Equal(t, ErrCodeDefinition, flowErr.Code)
	assert.Equal(t, "node payload invalid", flowErr.Message, "a lone error keeps its own message")
	assert.Equal(t, 1, flowErr.Details["error_count"])

	r.AddError("edges[1].source", ErrCodeDefinition, "unknown source")
	r.AddWarning("nodes[2]", ErrCodeDefinition, "unreachable node")

	require.ErrorAs(t, r.ToError(), &flowErr)
	assert.Contains(t, flowErr.Message, "2 errors")
	assert.Equal(t, 2, flowErr.Details["error_count"])
	assert.Equal(t, 1, flowErr.Details["warning_count"])
}
