// Package command turns free-text chat commands into typed, validated
// arguments and routes them to handlers. Parameters are declared as an
// explicit ordered list of specifications consumed by one generic positional
// parser; either every parameter validates or the handler is not invoked.
package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/basket/taskbot/internal/tasks"
)

// CoerceFunc converts one whitespace-delimited token into a typed value.
type CoerceFunc func(token string) (any, error)

// Param declares one positional parameter: the coercion applied to its token,
// the value used when the token is absent, and whether absence is an error.
type Param struct {
	Name     string
	Type     string // shown in user-facing validation messages
	Coerce   CoerceFunc
	Default  any
	Required bool
}

// Args is the validated argument bundle passed to a handler.
type Args map[string]any

func (a Args) Int(name string) int64 {
	v, _ := a[name].(int64)
	return v
}

func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

func (a Args) StatusFilter(name string) StatusFilter {
	v, _ := a[name].(StatusFilter)
	return v
}

// UsageError carries the user-facing message for a validation failure. The
// handler is never invoked when Parse returns one.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

// Parse splits text on whitespace, discards the leading command token, and
// binds the remaining tokens to params in declaration order.
func Parse(text string, params []Param) (Args, error) {
	tokens := strings.Fields(text)
	if len(tokens) > 0 {
		tokens = tokens[1:]
	}

	args := make(Args, len(params))
	for i, p := range params {
		if i >= len(tokens) {
			if p.Required {
				return nil, &UsageError{msg: fmt.Sprintf("Required field %q of %s type", p.Name, p.Type)}
			}
			args[p.Name] = p.Default
			continue
		}
		value, err := p.Coerce(tokens[i])
		if err != nil {
			return nil, &UsageError{msg: fmt.Sprintf("Invalid type for %q field: %v", p.Name, err)}
		}
		args[p.Name] = value
	}
	return args, nil
}

// Int coerces a token to an int64.
func Int(token string) (any, error) {
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected an integer, got %q", token)
	}
	return v, nil
}

// String accepts any token as-is.
func String(token string) (any, error) {
	return token, nil
}

// StatusFilter is the coerced form of a listing filter token. The zero value
// means no filter at all.
type StatusFilter struct {
	Status tasks.Status // empty when not filtering by status
	Mine   bool         // restrict to tasks assigned to the caller
}

// StatusEnum coerces a status token, case-insensitively. Besides the three
// statuses it accepts the sentinel "all" (no filter) and "me" (tasks assigned
// to the calling user).
func StatusEnum(token string) (any, error) {
	switch s := tasks.Status(strings.ToUpper(token)); {
	case s.Valid():
		return StatusFilter{Status: s}, nil
	case s == "ALL":
		return StatusFilter{}, nil
	case s == "ME":
		return StatusFilter{Mine: true}, nil
	}
	return nil, fmt.Errorf("expected one of %v, \"all\" or \"me\", got %q", tasks.All, token)
}
