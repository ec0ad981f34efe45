package env

import (
	"testing"
	"time"
)

func TestStringDefault(t *testing.T) {
	if got := String("CAMGATE_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q", got)
	}
	t.Setenv("CAMGATE_TEST_SET", "value")
	if got := String("CAMGATE_TEST_SET", "fallback"); got != "value" {
		t.Fatalf("String()=%q", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("CAMGATE_TEST_DUR", "90s")
	d, err := Duration("CAMGATE_TEST_DUR", time.Second)
	if err != nil {
		t.Fatalf("Duration err=%v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("Duration=%v", d)
	}

	t.Setenv("CAMGATE_TEST_DUR", "ninety")
	if _, err := Duration("CAMGATE_TEST_DUR", time.Second); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestInt64(t *testing.T) {
	t.Setenv("CAMGATE_TEST_INT", "2147483648")
	v, err := Int64("CAMGATE_TEST_INT", 0)
	if err != nil {
		t.Fatalf("Int64 err=%v", err)
	}
	if v != 2147483648 {
		t.Fatalf("Int64=%d", v)
	}
}

func TestCSV(t *testing.T) {
	t.Setenv("CAMGATE_TEST_CSV", " saw , rosette ,,")
	got := CSV("CAMGATE_TEST_CSV", nil)
	if len(got) != 2 || got[0] != "saw" || got[1] != "rosette" {
		t.Fatalf("CSV=%v", got)
	}
	if def := CSV("CAMGATE_TEST_CSV_UNSET", []string{"x"}); len(def) != 1 || def[0] != "x" {
		t.Fatalf("CSV default=%v", def)
	}
}
