// Package require provides fatal test assertions in the style of qrysm's
// own testing/require package: every failure calls t.Fatalf, stopping the
// current test immediately.
package require

import (
	"reflect"
	"strings"
	"testing"
)

// NoError fails the test immediately if err is non-nil.
func NoError(t testing.TB, err error, msg ...string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%sUnexpected error: %v", prefix(msg), err)
	}
}

// ErrorContains fails the test unless err is non-nil and its message
// contains want.
func ErrorContains(t testing.TB, want string, err error) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected error containing %q, got nil", want)
		return
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("Expected error to contain %q, got %q", want, err.Error())
	}
}

// Equal fails the test unless want and got are deeply equal.
func Equal(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("%sValues are not equal, want: %v, got: %v", prefix(msg), want, got)
	}
}

// NotEqual fails the test if want and got are deeply equal.
func NotEqual(t testing.TB, want, got interface{}, msg ...string) {
	t.Helper()
	if reflect.DeepEqual(want, got) {
		t.Fatalf("%sValues should not be equal, got: %v", prefix(msg), got)
	}
}

// True fails the test unless ok is true.
func True(t testing.TB, ok bool, msg ...string) {
	t.Helper()
	if !ok {
		t.Fatalf("%sExpected condition to be true", prefix(msg))
	}
}

// NotNil fails the test if obj is nil.
func NotNil(t testing.TB, obj interface{}, msg ...string) {
	t.Helper()
	if isNil(obj) {
		t.Fatalf("%sExpected value not to be nil", prefix(msg))
	}
}

func prefix(msg []string) string {
	if len(msg) == 0 {
		return ""
	}
	return strings.Join(msg, " ") + ": "
}

func isNil(obj interface{}) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
