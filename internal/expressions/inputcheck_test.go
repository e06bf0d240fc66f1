package expressions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
}

func newTestValidator(t *testing.T, locale string) *InputValidator {
	t.Helper()
	engine := NewExprEngine()
	return NewInputValidator(locale, engine, fixedNow)
}

func assertValidationMessage(t *testing.T, err error, want string) {
	t.Helper()
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
	assert.Equal(t, want, flowErr.Message)
}

func TestValidateRequired(t *testing.T) {
	v := newTestValidator(t, "en")

	err := v.Validate(context.Background(), "", true, nil, nil)
	assertValidationMessage(t, err, "This field is required.")

	assert.NoError(t, v.Validate(context.Background(), "", false, nil, nil))
	assert.NoError(t, v.Validate(context.Background(), "anything", true, nil, nil))
}

func TestValidateEmptySkipsRule(t *testing.T) {
	v := newTestValidator(t, "en")
	rule := &schema.ValidationRule{Rule: `value == "never"`}

	// Optional empty input passes without running the rule.
	assert.NoError(t, v.Validate(context.Background(), "", false, rule, nil))
}

func TestValidateDate(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		rule    schema.ValidationRule
		wantMsg string
	}{
		{
			name:    "malformed date",
			value:   "June 15th",
			rule:    schema.ValidationRule{Type: "date"},
			wantMsg: "Please enter a valid date (YYYY-MM-DD).",
		},
		{
			name:  "plain date without rule passes",
			value: "2025-06-20",
			rule:  schema.ValidationRule{Type: "date"},
		},
		{
			name:  "today-after accepts today",
			value: "2025-06-15",
			rule:  schema.ValidationRule{Type: "date", DateRule: "today-after"},
		},
		{
			name:  "today-after accepts tomorrow",
			value: "2025-06-16",
			rule:  schema.ValidationRule{Type: "date", DateRule: "today-after"},
		},
		{
			name:    "today-after rejects yesterday",
			value:   "2025-06-14",
			rule:    schema.ValidationRule{Type: "date", DateRule: "today-after"},
			wantMsg: "Please choose today or a later date.",
		},
		{
			name:  "today-before accepts today",
			value: "2025-06-15",
			rule:  schema.ValidationRule{Type: "date", DateRule: "today-before"},
		},
		{
			name:    "today-before rejects tomorrow",
			value:   "2025-06-16",
			rule:    schema.ValidationRule{Type: "date", DateRule: "today-before"},
			wantMsg: "Please choose today or an earlier date.",
		},
		{
			name:  "custom range inclusive bounds",
			value: "2025-07-01",
			rule:  schema.ValidationRule{Type: "date", DateRule: "custom", MinDate: "2025-07-01", MaxDate: "2025-07-31"},
		},
		{
			name:    "custom range below minimum",
			value:   "2025-06-30",
			rule:    schema.ValidationRule{Type: "date", DateRule: "custom", MinDate: "2025-07-01", MaxDate: "2025-07-31"},
			wantMsg: "Please choose a date within the allowed range.",
		},
		{
			name:    "custom range above maximum",
			value:   "2025-08-01",
			rule:    schema.ValidationRule{Type: "date", DateRule: "custom", MinDate: "2025-07-01", MaxDate: "2025-07-31"},
			wantMsg: "Please choose a date within the allowed range.",
		},
		{
			name:  "date rule set without type",
			value: "2025-06-14",
			rule:  schema.ValidationRule{DateRule: "today-before"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t, "en")
			err := v.Validate(context.Background(), tt.value, true, &tt.rule, nil)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assertValidationMessage(t, err, tt.wantMsg)
		})
	}
}

func TestValidateExprRule(t *testing.T) {
	v := newTestValidator(t, "en")
	ctx := context.Background()

	rule := &schema.ValidationRule{Rule: `len(value) >= 3`}
	assert.NoError(t, v.Validate(ctx, "abcd", true, rule, nil))
	assertValidationMessage(t, v.Validate(ctx, "ab", true, rule, nil), "The value is not valid.")
}

func TestValidateExprRuleSeesSlots(t *testing.T) {
	v := newTestValidator(t, "en")
	slots := map[string]any{"maxGuests": 4}

	rule := &schema.ValidationRule{Rule: `int(value) <= slots.maxGuests`}
	assert.NoError(t, v.Validate(context.Background(), "3", true, rule, slots))
	assertValidationMessage(t, v.Validate(context.Background(), "5", true, rule, slots), "The value is not valid.")
}

func TestValidateNonBoolRuleResultRejects(t *testing.T) {
	v := newTestValidator(t, "en")

	rule := &schema.ValidationRule{Rule: `len(value)`}
	assertValidationMessage(t, v.Validate(context.Background(), "abc", true, rule, nil), "The value is not valid.")
}

func TestValidateKoreanLocale(t *testing.T) {
	v := newTestValidator(t, "ko")

	assertValidationMessage(t, v.Validate(context.Background(), "", true, nil, nil), "필수 입력 항목입니다.")

	rule := &schema.ValidationRule{Type: "date"}
	assertValidationMessage(t, v.Validate(context.Background(), "nope", true, rule, nil), "올바른 날짜를 입력해 주세요 (YYYY-MM-DD).")
}

func TestValidateUnknownLocaleFallsBackToEnglish(t *testing.T) {
	v := newTestValidator(t, "fr")
	assertValidationMessage(t, v.Validate(context.Background(), "", true, nil, nil), "This field is required.")
}

func TestValidateNodeMessageOverride(t *testing.T) {
	rule := &schema.ValidationRule{
		Type:     "date",
		DateRule: "today-after",
		Messages: map[string]string{
			"en": "Bookings open from today onward.",
			"ko": "오늘부터 예약할 수 있습니다.",
		},
	}

	en := newTestValidator(t, "en")
	assertValidationMessage(t, en.Validate(context.Background(), "2025-06-01", true, rule, nil), "Bookings open from today onward.")

	ko := newTestValidator(t, "ko")
	assertValidationMessage(t, ko.Validate(context.Background(), "2025-06-01", true, rule, nil), "오늘부터 예약할 수 있습니다.")

	// No message for the locale falls back to the built-in text.
	de := newTestValidator(t, "de")
	assertValidationMessage(t, de.Validate(context.Background(), "2025-06-01", true, rule, nil), "Please choose today or a later date.")
}
