package flow

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/tjfontaine/routex-demo/internal/domain"
)

// ValidateAnswer checks value against the dialog input it answers. Failures
// wrap domain.ErrInvalidAnswer.
func ValidateAnswer(input domain.DialogInput, value string) error {
	switch in := input.(type) {
	case domain.Selection:
		if _, ok := in.Lookup(value); !ok {
			return fmt.Errorf("%w: %q is not one of the offered options", domain.ErrInvalidAnswer, value)
		}
		return nil
	case domain.Field:
		return validateField(in, value)
	case domain.Confirmation:
		return fmt.Errorf("%w: a confirmation takes no answer", domain.ErrInvalidAnswer)
	}
	return fmt.Errorf("%w: unsupported input %T", domain.ErrInvalidAnswer, input)
}

func validateField(f domain.Field, value string) error {
	n := utf8.RuneCountInString(value)

	minLen := 1
	if f.MinLength != nil {
		minLen = *f.MinLength
	}
	if n < minLen {
		if minLen == 1 {
			return fmt.Errorf("%w: a value is required", domain.ErrInvalidAnswer)
		}
		return fmt.Errorf("%w: at least %d characters required", domain.ErrInvalidAnswer, minLen)
	}
	if f.MaxLength != nil && n > *f.MaxLength {
		return fmt.Errorf("%w: at most %d characters allowed", domain.ErrInvalidAnswer, *f.MaxLength)
	}
	if value == "" {
		return nil
	}

	switch f.InputKind {
	case domain.InputDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return fmt.Errorf("%w: %q is not a date (YYYY-MM-DD)", domain.ErrInvalidAnswer, value)
		}
	case domain.InputEmail:
		if _, err := mail.ParseAddress(value); err != nil {
			return fmt.Errorf("%w: %q is not an email address", domain.ErrInvalidAnswer, value)
		}
	case domain.InputNumber:
		if strings.IndexFunc(value, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
			return fmt.Errorf("%w: %q is not a number", domain.ErrInvalidAnswer, value)
		}
	case domain.InputPhone:
		if strings.IndexFunc(value, func(r rune) bool {
			return !unicode.IsDigit(r) && !strings.ContainsRune("+ -/()", r)
		}) >= 0 {
			return fmt.Errorf("%w: %q is not a phone number", domain.ErrInvalidAnswer, value)
		}
	}
	return nil
}
