package entity

import (
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/agentstation/formsync/pkg/errors"
)

var timeType = reflect.TypeOf(time.Time{})

// coerce converts a decoded input value into a value assignable to target.
// Decoded JSON carries float64 numbers and string timestamps, so scalar
// kinds are converted with cast; documents and sequences are never
// flattened into scalars.
func coerce(value any, target reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(target), nil
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(target) {
		return v, nil
	}

	if target.Kind() == reflect.Pointer {
		inner, err := coerce(value, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(inner)
		return p, nil
	}

	if isComposite(value) && target.Kind() != reflect.Slice && target.Kind() != reflect.Map {
		return reflect.Value{}, mismatch(target, value)
	}

	if target == timeType {
		ts, err := cast.ToTimeE(value)
		if err != nil {
			return reflect.Value{}, mismatch(target, value)
		}
		return reflect.ValueOf(ts), nil
	}

	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return reflect.Value{}, mismatch(target, value)
		}
		out.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(value)
		if err != nil || out.OverflowInt(n) {
			return reflect.Value{}, mismatch(target, value)
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64(value)
		if err != nil || out.OverflowUint(n) {
			return reflect.Value{}, mismatch(target, value)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(value)
		if err != nil || out.OverflowFloat(f) {
			return reflect.Value{}, mismatch(target, value)
		}
		out.SetFloat(f)
	case reflect.Bool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return reflect.Value{}, mismatch(target, value)
		}
		out.SetBool(b)
	case reflect.Slice:
		items, ok := value.([]any)
		if !ok {
			return reflect.Value{}, mismatch(target, value)
		}
		out = reflect.MakeSlice(target, 0, len(items))
		for _, item := range items {
			iv, err := coerce(item, target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, iv)
		}
	case reflect.Map:
		doc, ok := value.(map[string]any)
		if !ok || target.Key().Kind() != reflect.String {
			return reflect.Value{}, mismatch(target, value)
		}
		out = reflect.MakeMapWithSize(target, len(doc))
		for k, item := range doc {
			iv, err := coerce(item, target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(target.Key()), iv)
		}
	default:
		if !v.Type().ConvertibleTo(target) {
			return reflect.Value{}, mismatch(target, value)
		}
		return v.Convert(target), nil
	}
	return out, nil
}

// toInt64 accepts whole numbers only. Strings are read as decimal.
func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case float32:
		return wholeInt64(float64(v))
	case float64:
		return wholeInt64(v)
	}
	return cast.ToInt64E(value)
}

func wholeInt64(f float64) (int64, error) {
	if math.Trunc(f) != f || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.ErrTypeMismatch
	}
	return int64(f), nil
}

// toUint64 accepts non-negative whole numbers only. Strings are read as
// decimal.
func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	case float32:
		return wholeUint64(float64(v))
	case float64:
		return wholeUint64(v)
	}
	return cast.ToUint64E(value)
}

func wholeUint64(f float64) (uint64, error) {
	if math.Trunc(f) != f || f < 0 || f >= math.MaxUint64 {
		return 0, errors.ErrTypeMismatch
	}
	return uint64(f), nil
}

func isComposite(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func mismatch(target reflect.Type, value any) error {
	return errors.NewTypeMismatchError("", target.String(), value)
}

// withPath fills in the attribute path of a type mismatch raised by coerce.
func withPath(err error, path string) error {
	var tm *errors.TypeMismatchError
	if errors.As(err, &tm) && tm.Path == "" {
		tm.Path = path
	}
	return err
}
