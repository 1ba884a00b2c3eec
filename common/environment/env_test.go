package environment_test

import (
	"testing"

	"github.com/nodalink/nodalink/common/environment"
)

func TestString(t *testing.T) {
	t.Setenv("TEST_SET_EMPTY", "")
	if _, ok := environment.String("TEST_SET_EMPTY"); !ok {
		t.Error("set-but-empty variable should report ok")
	}
	if _, ok := environment.String("TEST_NEVER_SET"); ok {
		t.Error("unset variable should not report ok")
	}
}

func TestStringOr(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := environment.StringOr("TEST_STRING", "default"); got != "hello" {
		t.Errorf("expected %q, got %q", "hello", got)
	}
	if got := environment.StringOr("TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !environment.BoolOr("TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("TEST_BOOL", "0")
	if environment.BoolOr("TEST_BOOL", true) {
		t.Error("expected false")
	}
	t.Setenv("TEST_BOOL_BAD", "maybe")
	if !environment.BoolOr("TEST_BOOL_BAD", true) {
		t.Error("unparseable value should return the default")
	}
	if !environment.BoolOr("TEST_BOOL_MISSING", true) {
		t.Error("expected default true")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("TEST_INT", "8002")
	if got := environment.IntOr("TEST_INT", 1); got != 8002 {
		t.Errorf("expected 8002, got %d", got)
	}
	if got := environment.IntOr("TEST_INT_MISSING", 99); got != 99 {
		t.Errorf("expected 99, got %d", got)
	}
	t.Setenv("TEST_INT_BAD", "notanint")
	if got := environment.IntOr("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("expected default 7 for bad value, got %d", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("TEST_SLICE", "http://a.local, http://b.local ,")
	got := environment.StringSliceOr("TEST_SLICE", nil)
	if len(got) != 2 || got[0] != "http://a.local" || got[1] != "http://b.local" {
		t.Errorf("unexpected result: %v", got)
	}
	fallback := []string{"*"}
	if got := environment.StringSliceOr("TEST_SLICE_MISSING", fallback); len(got) != 1 || got[0] != "*" {
		t.Errorf("expected fallback, got %v", got)
	}
}
