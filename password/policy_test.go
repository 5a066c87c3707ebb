package password

import (
	"errors"
	"testing"
)

func TestPolicies(t *testing.T) {
	p := All(Length(10, 64), Classes(3))

	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"too short", "Ab1!", false},
		{"too long", "Aa1" + string(make([]byte, 70)), false},
		{"two classes", "abcdefghij12", false},
		{"three classes", "Abcdefghij12", true},
		{"four classes", "Abcdef-ghij12", true},
	}
	for _, tc := range tests {
		err := p(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("%s: expected accept, got %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrWeak) {
			t.Fatalf("%s: expected ErrWeak, got %v", tc.name, err)
		}
	}
}

func TestAllSkipsNil(t *testing.T) {
	if err := All(nil, Length(1, 0))("x"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}
