package prefs

import (
	"errors"
	"fmt"
	"math"
)

// RootPrefix is the common prefix of every script branch.
const RootPrefix = "scriptvals."

var (
	ErrUnsupportedType     = errors.New("prefs: unsupported value type")
	ErrUnknownSubscription = errors.New("prefs: unknown subscription")
)

// Backend persists raw preference values. Values are string, bool or int32.
type Backend interface {
	Get(key string) (any, bool, error)
	Set(key string, value any) error
	Delete(key string) error
	// Keys lists every key starting with prefix.
	Keys(prefix string) ([]string, error)
	DeletePrefix(prefix string) error
	Close() error
}

// ScriptBranch returns the branch prefix for the script namespace/name.
// Prefixes are not prefix-free: the branch of "x/y" also covers every key of
// "x/y.z", so a key "z.k" of the first is the key "k" of the second.
func ScriptBranch(namespace, name string) string {
	return RootPrefix + namespace + "/" + name + "."
}

// Normalize coerces v into one of the storable types. Integral numbers in the
// int32 range become int32.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int32:
		return x, nil
	case int:
		return intValue(int64(x))
	case int8:
		return int32(x), nil
	case int16:
		return int32(x), nil
	case int64:
		return intValue(x)
	case uint8:
		return int32(x), nil
	case uint16:
		return int32(x), nil
	case uint32:
		return intValue(int64(x))
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func intValue(n int64) (any, error) {
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d overflows int32", ErrUnsupportedType, n)
	}
	return int32(n), nil
}

func floatValue(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: non-integral number %v", ErrUnsupportedType, f)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %v overflows int32", ErrUnsupportedType, f)
	}
	return int32(f), nil
}
