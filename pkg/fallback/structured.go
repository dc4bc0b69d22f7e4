package fallback

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// ExecuteStructured runs the operation through the handler's circuit gate and
// retry loop, but on circuit-open or retry exhaustion it synthesizes a
// minimal valid instance of T (zero scalars, empty slices and maps) instead
// of a catalog payload. If T cannot be defaulted — it is not a struct or
// pointer to struct — an error is returned: a schema that cannot produce a
// fallback instance is a contract violation, never silently swallowed.
func ExecuteStructured[T any](ctx context.Context, h *Handler, op func(ctx context.Context) (T, error), opName, targetID string) (T, error) {
	var zero T

	result, err := h.run(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	}, opName, targetID)

	switch {
	case err == nil:
		typed, ok := result.(T)
		if !ok {
			return zero, fmt.Errorf("operation %s returned %T, expected %T", opName, result, zero)
		}
		return typed, nil

	case errors.Is(err, errCircuitOpen):
		h.logger.Warn("Circuit open for %s, synthesizing structured fallback for %s", targetID, opName)
		h.recorder.IncFallback(targetID, "circuit_open")
		return buildFallbackInstance[T]()

	default:
		var exhausted *exhaustedError
		if errors.As(err, &exhausted) {
			h.logger.Warn("Retries exhausted for %s, synthesizing structured fallback: %v", opName, exhausted.last)
			h.recorder.IncFallback(targetID, "retry_exhausted")
			return buildFallbackInstance[T]()
		}
		return zero, err
	}
}

// buildFallbackInstance constructs a minimal valid T: the zero value with nil
// slice, map, and nested pointer-to-struct fields initialized to empty.
func buildFallbackInstance[T any]() (T, error) {
	var zero T

	v := reflect.ValueOf(&zero).Elem()
	t := v.Type()

	switch t.Kind() {
	case reflect.Struct:
		fillStructDefaults(v)
		return zero, nil
	case reflect.Pointer:
		if t.Elem().Kind() != reflect.Struct {
			return zero, fmt.Errorf("cannot build fallback instance for schema %s: pointer to non-struct", t)
		}
		inst := reflect.New(t.Elem())
		fillStructDefaults(inst.Elem())
		v.Set(inst)
		return zero, nil
	case reflect.Map:
		v.Set(reflect.MakeMap(t))
		return zero, nil
	default:
		return zero, fmt.Errorf("cannot build fallback instance for schema %s: unsupported kind %s", t, t.Kind())
	}
}

// fillStructDefaults initializes nil collection fields on a settable struct
// value so the fallback instance is usable without nil checks.
func fillStructDefaults(v reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		switch field.Kind() {
		case reflect.Slice:
			field.Set(reflect.MakeSlice(field.Type(), 0, 0))
		case reflect.Map:
			field.Set(reflect.MakeMap(field.Type()))
		case reflect.Struct:
			fillStructDefaults(field)
		}
	}
}
