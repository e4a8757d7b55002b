package environment_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/bdobrica/openhabot/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("OHB_TEST_STRING", "  hello ")
	if got := environment.StringOr("OHB_TEST_STRING", "def"); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if got := environment.StringOr("OHB_TEST_STRING_MISSING", "def"); got != "def" {
		t.Errorf("got %q, want %q", got, "def")
	}
}

func TestBoolOr(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "off": false, "0": false}
	for raw, want := range cases {
		t.Setenv("OHB_TEST_BOOL", raw)
		if got := environment.BoolOr("OHB_TEST_BOOL", !want); got != want {
			t.Errorf("BoolOr(%q) = %v, want %v", raw, got, want)
		}
	}
	t.Setenv("OHB_TEST_BOOL", "maybe")
	if got := environment.BoolOr("OHB_TEST_BOOL", true); !got {
		t.Error("unparsable value should fall back to default")
	}
}

func TestIntOrAndDurationOr(t *testing.T) {
	t.Setenv("OHB_TEST_INT", "42")
	t.Setenv("OHB_TEST_DUR", "3s")
	t.Setenv("OHB_TEST_BAD", "x")

	if got := environment.IntOr("OHB_TEST_INT", 1); got != 42 {
		t.Errorf("IntOr = %d, want 42", got)
	}
	if got := environment.IntOr("OHB_TEST_BAD", 7); got != 7 {
		t.Errorf("IntOr fallback = %d, want 7", got)
	}
	if got := environment.DurationOr("OHB_TEST_DUR", time.Second); got != 3*time.Second {
		t.Errorf("DurationOr = %s, want 3s", got)
	}
	if got := environment.DurationOr("OHB_TEST_BAD", time.Minute); got != time.Minute {
		t.Errorf("DurationOr fallback = %s, want 1m", got)
	}
}

func TestStringSliceOr(t *testing.T) {
	t.Setenv("OHB_TEST_SLICE", " !a:example.org, ,!b:example.org ")
	got := environment.StringSliceOr("OHB_TEST_SLICE", nil)
	want := []string{"!a:example.org", "!b:example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	t.Setenv("OHB_TEST_SLICE", " , ")
	if got := environment.StringSliceOr("OHB_TEST_SLICE", []string{"d"}); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("blank list should fall back, got %v", got)
	}
}
