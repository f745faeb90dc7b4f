package vecstore

import (
	"strings"
	"testing"
)

func TestVectorLiteral(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float32
		want string
	}{
		{"empty", nil, "[]"},
		{"single", []float32{0.5}, "[0.5]"},
		{"multiple", []float32{1, -0.25, 3}, "[1,-0.25,3]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := VectorLiteral(tc.in); got != tc.want {
				t.Errorf("VectorLiteral = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestVectorLiteralShape(t *testing.T) {
	t.Parallel()

	vec := make([]float32, 1536)
	for i := range vec {
		vec[i] = float32(i) / 1536
	}
	lit := VectorLiteral(vec)
	if !strings.HasPrefix(lit, "[") || !strings.HasSuffix(lit, "]") {
		t.Errorf("literal must be bracketed, got %q…%q", lit[:1], lit[len(lit)-1:])
	}
	if got := strings.Count(lit, ","); got != len(vec)-1 {
		t.Errorf("separators = %d, want %d", got, len(vec)-1)
	}
}
