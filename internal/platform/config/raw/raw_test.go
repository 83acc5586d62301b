package raw

import "testing"

func TestEnv(t *testing.T) {
	env := New().Prefix("LOG_")
	t.Setenv("LOG_LEVEL", "  info ")
	t.Setenv("LOG_BLANK", "   ")
	t.Setenv("LOG_SAMPLE_EVERY", "10")
	t.Setenv("LOG_NEG", "-3")
	t.Setenv("LOG_WORD", "ten")

	if got := env.Get("LEVEL", "debug"); got != "info" {
		t.Fatalf("Get = %q", got)
	}
	if got := env.Get("BLANK", "debug"); got != "debug" {
		t.Fatalf("Get blank = %q", got)
	}
	if got := env.Int("SAMPLE_EVERY", 0); got != 10 {
		t.Fatalf("Int = %d", got)
	}
	if env.Int("NEG", 1) != 1 || env.Int("WORD", 1) != 1 || env.Int("UNSET", 1) != 1 {
		t.Fatal("Int should fall back to default")
	}
}

func TestEnvBool(t *testing.T) {
	env := New().Prefix("LOG_")
	cases := []struct {
		in   string
		def  bool
		want bool
	}{
		{"", true, true},
		{"1", false, true},
		{"TRUE", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{"sometimes", true, true},
	}
	for _, c := range cases {
		t.Setenv("LOG_CALLER", c.in)
		if got := env.Bool("CALLER", c.def); got != c.want {
			t.Fatalf("Bool(%q, %v) = %v", c.in, c.def, got)
		}
	}
}
