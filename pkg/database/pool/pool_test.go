package pool

import "testing"

func TestForConcurrency(t *testing.T) {
	tests := []struct {
		matches int
		want    int32
	}{
		{0, 20},
		{1, 20},
		{4, 40},
	}

	for _, tt := range tests {
		if got := ForConcurrency(tt.matches).MaxConns; got != tt.want {
			t.Errorf("ForConcurrency(%d).MaxConns = %d, want %d", tt.matches, got, tt.want)
		}
	}
}
