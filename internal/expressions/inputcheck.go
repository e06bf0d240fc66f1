package expressions

import (
	"context"
	"time"

	"github.com/rendis/chatflow/pkg/schema"
)

// InputValidator checks user input against the validation rule of a
// slotfilling or form node. Rejections carry a locale-appropriate message
// meant for the transcript, and never terminate the session.
type InputValidator struct {
	locale string
	expr   *ExprEngine
	now    func() time.Time
}

// NewInputValidator creates an InputValidator. The now func supplies the
// reference date for date rules; tests inject a fixed clock.
func NewInputValidator(locale string, exprEngine *ExprEngine, now func() time.Time) *InputValidator {
	if now == nil {
		now = time.Now
	}
	return &InputValidator{locale: locale, expr: exprEngine, now: now}
}

const dateLayout = "2006-01-02"

var localeMessages = map[string]map[string]string{
	"en": {
		"required":          "This field is required.",
		"invalid_date":      "Please enter a valid date (YYYY-MM-DD).",
		"date_after_today":  "Please choose today or a later date.",
		"date_before_today": "Please choose today or an earlier date.",
		"date_range":        "Please choose a date within the allowed range.",
		"rule":              "The value is not valid.",
	},
	"ko": {
		"required":          "필수 입력 항목입니다.",
		"invalid_date":      "올바른 날짜를 입력해 주세요 (YYYY-MM-DD).",
		"date_after_today":  "오늘 이후의 날짜를 선택해 주세요.",
		"date_before_today": "오늘 이전의 날짜를 선택해 주세요.",
		"date_range":        "허용된 범위 내의 날짜를 선택해 주세요.",
		"rule":              "입력값이 유효하지 않습니다.",
	},
}

// Validate returns nil when the value passes, or a validation FlowError
// whose message is safe to show the user.
func (v *InputValidator) Validate(ctx context.Context, value string, required bool, rule *schema.ValidationRule, slots map[string]any) error {
	if value == "" {
		if required {
			return v.reject("required", rule)
		}
		return nil
	}
	if rule == nil {
		return nil
	}

	if rule.Type == "date" || rule.DateRule != "" {
		if err := v.validateDate(value, rule); err != nil {
			return err
		}
	}

	if rule.Rule != "" {
		out, err := v.expr.Evaluate(ctx, rule.Rule, map[string]any{
			"value": value,
			"slots": slots,
		})
		if err != nil {
			return err
		}
		if ok, isBool := out.(bool); !isBool || !ok {
			return v.reject("rule", rule)
		}
	}

	return nil
}

func (v *InputValidator) validateDate(value string, rule *schema.ValidationRule) error {
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return v.reject("invalid_date", rule)
	}

	today := v.now().Truncate(24 * time.Hour)

	switch rule.DateRule {
	case "today-after":
		if date.Before(today) {
			return v.reject("date_after_today", rule)
		}
	case "today-before":
		if date.After(today) {
			return v.reject("date_before_today", rule)
		}
	case "custom":
		if rule.MinDate != "" {
			if min, err := time.Parse(dateLayout, rule.MinDate); err == nil && date.Before(min) {
				return v.reject("date_range", rule)
			}
		}
		if rule.MaxDate != "" {
			if max, err := time.Parse(dateLayout, rule.MaxDate); err == nil && date.After(max) {
				return v.reject("date_range", rule)
			}
		}
	}

	return nil
}

// reject builds the user-facing validation error. A per-node message for the
// active locale wins over the built-in one.
func (v *InputValidator) reject(key string, rule *schema.ValidationRule) error {
	if rule != nil && rule.Messages != nil {
		if msg, ok := rule.Messages[v.locale]; ok && msg != "" {
			return schema.NewError(schema.ErrCodeValidation, msg)
		}
	}
	msgs, ok := localeMessages[v.locale]
	if !ok {
		msgs = localeMessages["en"]
	}
	return schema.NewError(schema.ErrCodeValidation, msgs[key])
}
