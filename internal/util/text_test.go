package util

import (
	"reflect"
	"testing"
)

func TestCollapseWhitespace(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Resource   Based\tView", "resource based view"},
		{"  leading and trailing  ", "leading and trailing"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CollapseWhitespace(tt.in); got != tt.want {
			t.Errorf("CollapseWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokens(t *testing.T) {
	got := Tokens(`The firm's resources (VRIN) matter.`)
	want := []string{"the", "firm's", "resources", "vrin", "matter"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}
}

func TestHashKeyDistinguishesParts(t *testing.T) {
	// The separator prevents ("ab","c") and ("a","bc") from colliding.
	if HashKey("ab", "c") == HashKey("a", "bc") {
		t.Error("part boundaries must affect the key")
	}
	if HashKey("x") != HashKey("x") {
		t.Error("hash must be deterministic")
	}
	if len(ShortHash("x")) != 16 {
		t.Errorf("short hash length = %d", len(ShortHash("x")))
	}
}
