// Package assert provides non-fatal test assertions in the style of
// qrysm's own testing/assert package: failures call t.Errorf and let the
// test continue, unlike testing/require.
package assert

import (
	"reflect"
	"strings"
	"testing"
)

// NoError logs a test error if err is non-nil.
func NoError(t testing.TB, err error, msg ...string) {
	t.Helper()
	if err != nil {
		t.Errorf("%sUnexpected error: %v", prefix(msg), err)
	}
}

// ErrorContains logs a test error unless err is non-nil and its message
// contains want.
func ErrorContains(t testing.TB, want string, err error) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected error containing %q, got nil", want)
		return
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("Expected error to contain %q, got %q", want, err.Error())
	}
}

// Equal logs a test error unless want and got are deeply equal.
func Equal(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Errorf("%sValues are not equal, want: %v, got: %v", prefix(msg), want, got)
	}
}

// True logs a test error unless ok is true.
func True(t testing.TB, ok bool, msg ...string) {
	t.Helper()
	if !ok {
		t.Errorf("%sExpected condition to be true", prefix(msg))
	}
}

func prefix(msg []string) string {
	if len(msg) == 0 {
		return ""
	}
	return strings.Join(msg, " ") + ": "
}
