package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dukex/herald/pkg/models"
)

func TestResolvePath(t *testing.T) {
	source := map[string]any{
		"score": float64(10),
		"data": map[string]any{
			"nestedKey": "value",
			"empty":     "",
			"zero":      float64(0),
			"off":       false,
		},
	}

	value, defined := ResolvePath(source, "score")
	assert.True(t, defined)
	assert.Equal(t, float64(10), value)

	value, defined = ResolvePath(source, "data.nestedKey")
	assert.True(t, defined)
	assert.Equal(t, "value", value)

	_, defined = ResolvePath(source, "data.missing")
	assert.False(t, defined)

	_, defined = ResolvePath(source, "score.deeper")
	assert.False(t, defined)

	_, defined = ResolvePath(nil, "score")
	assert.False(t, defined)
}

func TestResolvePathIsCaseSensitive(t *testing.T) {
	source := map[string]any{
		"data": map[string]any{"nested_Key": "x"},
	}

	_, defined := ResolvePath(source, "data.nestedKey")
	assert.False(t, defined)

	_, defined = ResolvePath(source, "data.nested_Key")
	assert.True(t, defined)
}

func TestEvaluateFieldEquality(t *testing.T) {
	result := EvaluateField(models.OperatorEqual, "value", "value", true)
	assert.True(t, result.Passed)

	result = EvaluateField(models.OperatorEqual, "value", "other", true)
	assert.False(t, result.Passed)

	result = EvaluateField(models.OperatorNotEqual, "value", "other", true)
	assert.True(t, result.Passed)

	// Numbers compare through their string form.
	result = EvaluateField(models.OperatorEqual, "10", float64(10), true)
	assert.True(t, result.Passed)
}

func TestEvaluateFieldBooleanLiterals(t *testing.T) {
	result := EvaluateField(models.OperatorEqual, "true", true, true)
	assert.True(t, result.Passed)

	result = EvaluateField(models.OperatorEqual, true, "true", true)
	assert.True(t, result.Passed)

	result = EvaluateField(models.OperatorEqual, "false", true, true)
	assert.False(t, result.Passed)
}

func TestEvaluateFieldNumericComparisons(t *testing.T) {
	cases := []struct {
		operator models.FieldOperator
		expected any
		actual   any
		passed   bool
	}{
		{models.OperatorLarger, "5", float64(10), true},
		{models.OperatorLarger, "10", float64(10), false},
		{models.OperatorLargerEqual, "10", float64(10), true},
		{models.OperatorSmaller, "10", float64(5), true},
		{models.OperatorSmallerEqual, "5", float64(5), true},
		{models.OperatorSmaller, float64(5), float64(10), false},
		// Non-numeric actual fails closed.
		{models.OperatorLarger, "5", "not-a-number", false},
		{models.OperatorSmaller, "5", "not-a-number", false},
	}

	for _, tc := range cases {
		result := EvaluateField(tc.operator, tc.expected, tc.actual, true)
		assert.Equal(t, tc.passed, result.Passed,
			"%s expected=%v actual=%v", tc.operator, tc.expected, tc.actual)
	}
}

func TestEvaluateFieldContainment(t *testing.T) {
	result := EvaluateField(models.OperatorIn, "b", []any{"a", "b", "c"}, true)
	assert.True(t, result.Passed)

	result = EvaluateField(models.OperatorIn, "z", []any{"a", "b", "c"}, true)
	assert.False(t, result.Passed)

	result = EvaluateField(models.OperatorIn, "ell", "hello", true)
	assert.True(t, result.Passed)

	result = EvaluateField(models.OperatorNotIn, "z", []any{"a", "b"}, true)
	assert.True(t, result.Passed)
}

func TestEvaluateFieldIsDefined(t *testing.T) {
	// Falsy values still count as defined.
	for _, actual := range []any{false, float64(0), ""} {
		result := EvaluateField(models.OperatorIsDefined, nil, actual, true)
		assert.True(t, result.Passed, "actual=%v", actual)
	}

	result := EvaluateField(models.OperatorIsDefined, nil, nil, false)
	assert.False(t, result.Passed)
}

func TestEvaluateFieldUndefinedFailsEveryOperator(t *testing.T) {
	operators := []models.FieldOperator{
		models.OperatorEqual, models.OperatorNotEqual, models.OperatorLarger,
		models.OperatorSmaller, models.OperatorIn, models.OperatorNotIn,
	}

	for _, operator := range operators {
		result := EvaluateField(operator, "anything", nil, false)
		assert.False(t, result.Passed, "operator=%s", operator)
	}
}

func TestEvaluateOnline(t *testing.T) {
	online := true
	offline := false

	result := EvaluateOnline(&models.Subscriber{IsOnline: &online}, "true")
	assert.True(t, result.Passed)

	result = EvaluateOnline(&models.Subscriber{IsOnline: &offline}, "false")
	assert.True(t, result.Passed)

	result = EvaluateOnline(&models.Subscriber{IsOnline: &offline}, "true")
	assert.False(t, result.Passed)
}

func TestEvaluateOnlineFailsClosedWithoutPresence(t *testing.T) {
	// No presence fields set: neither true nor false targets match.
	result := EvaluateOnline(&models.Subscriber{}, "true")
	assert.False(t, result.Passed)

	result = EvaluateOnline(&models.Subscriber{}, "false")
	assert.False(t, result.Passed)

	result = EvaluateOnline(nil, "true")
	assert.False(t, result.Passed)
}

func TestEvaluateOnlineInLast(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	offline := false

	fourMinutesAgo := now.Add(-4 * time.Minute)
	subscriber := &models.Subscriber{IsOnline: &offline, LastOnlineAt: &fourMinutesAgo}
	result := EvaluateOnlineInLast(subscriber, float64(5), models.TimeOperatorMinutes, now)
	assert.True(t, result.Passed)

	sixMinutesAgo := now.Add(-6 * time.Minute)
	subscriber = &models.Subscriber{IsOnline: &offline, LastOnlineAt: &sixMinutesAgo}
	result = EvaluateOnlineInLast(subscriber, float64(5), models.TimeOperatorMinutes, now)
	assert.False(t, result.Passed)

	twoHoursAgo := now.Add(-2 * time.Hour)
	subscriber = &models.Subscriber{IsOnline: &offline, LastOnlineAt: &twoHoursAgo}
	result = EvaluateOnlineInLast(subscriber, float64(3), models.TimeOperatorHours, now)
	assert.True(t, result.Passed)

	twoDaysAgo := now.Add(-48 * time.Hour)
	subscriber = &models.Subscriber{IsOnline: &offline, LastOnlineAt: &twoDaysAgo}
	result = EvaluateOnlineInLast(subscriber, float64(1), models.TimeOperatorDays, now)
	assert.False(t, result.Passed)
}

func TestEvaluateOnlineInLastCurrentlyOnline(t *testing.T) {
	now := time.Now().UTC()
	online := true

	result := EvaluateOnlineInLast(&models.Subscriber{IsOnline: &online}, float64(5), models.TimeOperatorMinutes, now)
	assert.True(t, result.Passed)
}

func TestEvaluateOnlineInLastFailsClosedWithoutPresence(t *testing.T) {
	now := time.Now().UTC()

	result := EvaluateOnlineInLast(&models.Subscriber{}, float64(5), models.TimeOperatorMinutes, now)
	assert.False(t, result.Passed)
}
