package slug

import "testing"

func TestMake(t *testing.T) {
	tests := map[string]string{
		"Hello World":            "hello-world",
		"  Crème Brûlée, again!": "creme-brulee-again",
		"Go 1.22 --- routing":    "go-1-22-routing",
		"¿Qué tal?":              "que-tal",
		"---":                    "",
		"already-a-slug":         "already-a-slug",
	}
	for in, want := range tests {
		if got := Make(in); got != want {
			t.Errorf("Make(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid("hello-world") {
		t.Error("Expected hello-world to be valid")
	}
	for _, s := range []string{"", "Hello", "trailing-", "double--dash", "spa ce"} {
		if Valid(s) {
			t.Errorf("Expected %q to be invalid", s)
		}
	}
}
