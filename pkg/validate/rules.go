package validate

import (
	"context"
	"regexp"
)

var (
	emailAddressPattern  = regexp.MustCompile(`^[^\s@]+@[^\s@]+$`)
	naturalNumberPattern = regexp.MustCompile(`^[0-9]+$`)
)

// Required rejects values that are absent from the input. Explicit nulls
// are accepted; combine with NotNull to require a concrete value.
func Required(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if !Defined(value) {
			return NewError(message)
		}
		return nil
	})
}

// NotNull rejects explicit null values. Absent values are accepted.
func NotNull(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if Defined(value) && value == nil {
			return NewError(message)
		}
		return nil
	})
}

// Forbidden rejects any value present in the input, null included.
func Forbidden(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if Defined(value) {
			return NewError(message)
		}
		return nil
	})
}

// Null rejects any value other than an explicit or implicit null.
func Null(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if Present(value) {
			return NewError(message)
		}
		return nil
	})
}

// String rejects present values that are not strings.
func String(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if !Present(value) {
			return nil
		}
		if _, ok := value.(string); !ok {
			return NewError(message)
		}
		return nil
	})
}

// Boolean rejects present values that are not booleans.
func Boolean(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if !Present(value) {
			return nil
		}
		if _, ok := value.(bool); !ok {
			return NewError(message)
		}
		return nil
	})
}

// length returns the length of a string or array value, or -1 for values
// the length rules do not apply to.
func length(value any) int {
	switch v := value.(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	}
	return -1
}

// MinLength rejects strings and arrays shorter than min.
func MinLength(message string, min int) Validator {
	return Func(func(_ context.Context, value any) error {
		if n := length(value); n >= 0 && n < min {
			return NewError(message)
		}
		return nil
	})
}

// MaxLength rejects strings and arrays longer than max.
func MaxLength(message string, max int) Validator {
	return Func(func(_ context.Context, value any) error {
		if n := length(value); n > max {
			return NewError(message)
		}
		return nil
	})
}

// Empty rejects strings and arrays with any elements.
func Empty(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if n := length(value); n > 0 {
			return NewError(message)
		}
		return nil
	})
}

// NotEmpty rejects zero-length strings and arrays.
func NotEmpty(message string) Validator {
	return Func(func(_ context.Context, value any) error {
		if n := length(value); n == 0 {
			return NewError(message)
		}
		return nil
	})
}

// MatchesRegexp rejects present string values that do not match pattern.
// Non-string values are accepted; combine with String to constrain type.
func MatchesRegexp(message string, pattern *regexp.Regexp) Validator {
	return Func(func(_ context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if !pattern.MatchString(s) {
			return NewError(message)
		}
		return nil
	})
}

// EmailAddress rejects strings that are not loosely email-shaped. The
// pattern is deliberately permissive: one @ with something on each side.
func EmailAddress(message string) Validator {
	return MatchesRegexp(message, emailAddressPattern)
}

// NaturalNumber rejects strings that are not unsigned decimal integers.
// Query-string parameters arrive as strings, which is where this rule is
// used.
func NaturalNumber(message string) Validator {
	return MatchesRegexp(message, naturalNumberPattern)
}

// Object validates a nested attribute map against its own rule set. A
// present non-map value is rejected with message; a map's violations are
// reported as a nested Messages map under the parent attribute. Null and
// absent values are accepted, as with the other rules.
func Object(message string, rules RuleSet) Validator {
	return Func(func(ctx context.Context, value any) error {
		if !Present(value) {
			return nil
		}
		nested, ok := value.(map[string]any)
		if !ok {
			return NewError(message)
		}
		return Validate(ctx, nested, rules)
	})
}

// OneOf rejects present string values outside the allowed set.
func OneOf(message string, allowed ...string) Validator {
	return Func(func(_ context.Context, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return NewError(message)
	})
}
