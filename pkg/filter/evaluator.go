// Package filter evaluates the boolean condition trees that gate workflow
// steps per recipient.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/herald/pkg/models"
)

// Result is the outcome of one leaf condition evaluation.
type Result struct {
	Passed   bool
	Expected string
	Actual   string
}

// ResolvePath walks a dot-notation path through nested maps. The second
// return distinguishes "path exists with a zero value" from "path missing",
// which IS_DEFINED relies on. Lookup is case-sensitive.
func ResolvePath(source map[string]any, path string) (any, bool) {
	if source == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	current := any(source)

	for _, segment := range segments {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		value, exists := asMap[segment]
		if !exists {
			return nil, false
		}

		current = value
	}

	return current, true
}

// EvaluateField compares a resolved value against the condition's expected
// value. A missing path fails every operator except IS_DEFINED, which it
// fails by definition.
func EvaluateField(operator models.FieldOperator, expected, actual any, defined bool) Result {
	result := Result{
		Expected: stringify(expected),
		Actual:   stringify(actual),
	}

	if operator == models.OperatorIsDefined {
		result.Passed = defined

		return result
	}

	if !defined {
		return result
	}

	switch operator {
	case models.OperatorEqual:
		result.Passed = looseEqual(expected, actual)
	case models.OperatorNotEqual:
		result.Passed = !looseEqual(expected, actual)
	case models.OperatorLarger:
		result.Passed = compareNumeric(expected, actual, func(a, e float64) bool { return a > e })
	case models.OperatorSmaller:
		result.Passed = compareNumeric(expected, actual, func(a, e float64) bool { return a < e })
	case models.OperatorLargerEqual:
		result.Passed = compareNumeric(expected, actual, func(a, e float64) bool { return a >= e })
	case models.OperatorSmallerEqual:
		result.Passed = compareNumeric(expected, actual, func(a, e float64) bool { return a <= e })
	case models.OperatorIn:
		result.Passed = contains(actual, expected)
	case models.OperatorNotIn:
		result.Passed = !contains(actual, expected)
	}

	return result
}

// looseEqual compares after boolean literal parsing, then falls back to
// string-coerced equality.
func looseEqual(expected, actual any) bool {
	expectedBool, expectedOk := parseBool(expected)
	actualBool, actualOk := parseBool(actual)

	if expectedOk && actualOk {
		return expectedBool == actualBool
	}

	return stringify(expected) == stringify(actual)
}

// compareNumeric coerces both sides to numbers; a non-numeric side fails
// closed.
func compareNumeric(expected, actual any, compare func(actual, expected float64) bool) bool {
	expectedNum, expectedOk := parseFloat(expected)
	actualNum, actualOk := parseFloat(actual)

	if !expectedOk || !actualOk {
		return false
	}

	return compare(actualNum, expectedNum)
}

// contains is membership for slices and substring containment otherwise.
func contains(actual, expected any) bool {
	expectedStr := stringify(expected)

	if items, ok := actual.([]any); ok {
		for _, item := range items {
			if stringify(item) == expectedStr {
				return true
			}
		}

		return false
	}

	return strings.Contains(stringify(actual), expectedStr)
}

func parseBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		if v == "true" {
			return true, true
		}

		if v == "false" {
			return false, true
		}
	}

	return false, false
}

func parseFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	}

	return 0, false
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	if f, ok := value.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprintf("%v", value)
}

// EvaluateOnline checks the subscriber's current presence against the
// condition's boolean value. A subscriber that never reported presence fails
// closed for both true and false targets.
func EvaluateOnline(subscriber *models.Subscriber, expected any) Result {
	result := Result{Expected: stringify(expected)}

	if subscriber == nil || (subscriber.IsOnline == nil && subscriber.LastOnlineAt == nil) {
		return result
	}

	online := subscriber.IsOnline != nil && *subscriber.IsOnline
	result.Actual = strconv.FormatBool(online)

	expectedBool, ok := parseBool(expected)
	if !ok {
		return result
	}

	result.Passed = online == expectedBool

	return result
}

// EvaluateOnlineInLast passes when the subscriber is online now or was last
// online within the window.
func EvaluateOnlineInLast(subscriber *models.Subscriber, amount any, unit models.TimeOperator, now time.Time) Result {
	result := Result{Expected: stringify(amount)}

	if subscriber == nil || (subscriber.IsOnline == nil && subscriber.LastOnlineAt == nil) {
		return result
	}

	if subscriber.IsOnline != nil && *subscriber.IsOnline {
		result.Passed = true
		result.Actual = "online"

		return result
	}

	if subscriber.LastOnlineAt == nil {
		return result
	}

	value, ok := parseFloat(amount)
	if !ok {
		return result
	}

	var window time.Duration

	switch unit {
	case models.TimeOperatorMinutes:
		window = time.Duration(value * float64(time.Minute))
	case models.TimeOperatorHours:
		window = time.Duration(value * float64(time.Hour))
	case models.TimeOperatorDays:
		window = time.Duration(value * 24 * float64(time.Hour))
	default:
		return result
	}

	elapsed := now.Sub(*subscriber.LastOnlineAt)
	result.Actual = elapsed.String()
	result.Passed = elapsed <= window

	return result
}
