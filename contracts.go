package workflow

import (
	"context"
	"reflect"
	"regexp"
	"strings"
)

// CommandFunc is an adapter that lets you use a function as a Commander[T]
type CommandFunc[T any] func(ctx context.Context, msg T) error

// Execute calls the underlying function
func (f CommandFunc[T]) Execute(ctx context.Context, msg T) error {
	return f(ctx, msg)
}

// Commander is the subscriber contract for outbound workflow messages,
// e.g. a host worker consuming StartStep dispatches.
type Commander[T any] interface {
	Execute(ctx context.Context, msg T) error
}

// QueryFunc is an adapter that lets you use a function as a Querier[T, R]
type QueryFunc[T any, R any] func(ctx context.Context, msg T) (R, error)

// Query calls the underlying function
func (f QueryFunc[T, R]) Query(ctx context.Context, msg T) (R, error) {
	return f(ctx, msg)
}

// Querier is responsible for returning data, with no side effects
type Querier[T any, R any] interface {
	Query(ctx context.Context, msg T) (R, error)
}

func GetMessageType(msg any) string {
	if msg == nil {
		return "unknown_type"
	}

	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr && v.IsNil() {
		return "unknown_type"
	}

	// if msg implements Type() then we use that:
	if msgTyper, ok := msg.(interface{ Type() string }); ok {
		return msgTyper.Type()
	}

	t := reflect.TypeOf(msg)
	if t == nil {
		return "unknown_type"
	}

	typeName := t.String()

	if t.Kind() == reflect.Ptr {
		typeName = typeName[1:] // remove the "*" prefix
		t = t.Elem()            // get the type that the pointer points to
	}

	pkgPath := t.PkgPath()
	if pkgPath != "" {
		parts := strings.Split(pkgPath, "/")
		pkgPath = parts[len(parts)-1]
	}

	txName := SnakeCase(typeName)

	if pkgPath == "" {
		return txName
	}
	return pkgPath + "::" + txName
}

var snakeBoundary = regexp.MustCompile("([a-z0-9])([A-Z])")

// SnakeCase converts CamelCase identifiers to snake_case. Phase and message
// names are derived with it so generated tables stay readable.
func SnakeCase(s string) string {
	return strings.ToLower(snakeBoundary.ReplaceAllString(s, "${1}_${2}"))
}
