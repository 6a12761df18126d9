// Package config loads pulse settings from defaults, files, environment and flags.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// lookupSetting returns the first value present under any candidate key.
// Viper lowercases keys, so each candidate is also tried in lowercase.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

func asString(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// asFloat64 handles every numeric kind plus numeric strings.
func asFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func asInt(value interface{}) (int, error) {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	f, err := asFloat64(value)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func asBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration parses duration strings; bare numbers are seconds.
func asDuration(value interface{}) (time.Duration, error) {
	return parseDuration(value, time.Second)
}

// asMillis parses duration strings; bare numbers are milliseconds.
func asMillis(value interface{}) (time.Duration, error) {
	return parseDuration(value, time.Millisecond)
}

func parseDuration(value interface{}, unit time.Duration) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return scaleDuration(n, unit), nil
		}
		return time.ParseDuration(s)
	default:
		n, err := asFloat64(value)
		if err != nil {
			return 0, fmt.Errorf("unsupported duration type %T", value)
		}
		return scaleDuration(n, unit), nil
	}
}

func scaleDuration(n float64, unit time.Duration) time.Duration {
	return time.Duration(math.Round(n * float64(unit)))
}

// asStringSlice handles []string, []interface{} and semicolon separated strings.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []interface{}:
		result := make([]string, 0, len(v))
		for i, item := range v {
			str, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			result = append(result, str)
		}
		return result, nil
	case string:
		var result []string
		for _, part := range strings.Split(v, ";") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}

// toStringKeyMap converts a nested section into a map with lowercase keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	switch v := value.(type) {
	case map[string]interface{}:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[interface{}]interface{}:
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[strings.ToLower(strings.TrimSpace(str))] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return result, nil
}
