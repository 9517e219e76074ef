package partition

import (
	"strconv"
	"testing"
)

func TestFor_Determinism(t *testing.T) {
	// Same input must always produce the same lane.
	id := For("10.0.0.1:502", 16)
	for i := 0; i < 100; i++ {
		if got := For("10.0.0.1:502", 16); got != id {
			t.Fatalf("For(\"10.0.0.1:502\") = %d on iteration %d, want %d", got, i, id)
		}
	}
}

func TestFor_Range(t *testing.T) {
	inputs := []string{"", "a", "10.0.0.1:502", "10.0.0.2:502", "meter-gateway.plant-3.example.internal:1502"}
	for _, n := range []int{1, 2, 7, 256} {
		for _, s := range inputs {
			p := For(s, n)
			if p < 0 || p >= n {
				t.Errorf("For(%q, %d) = %d, want [0, %d)", s, n, p, n)
			}
		}
	}
}

func TestFor_NonPositiveLaneCount(t *testing.T) {
	if got := For("x", 0); got != 0 {
		t.Errorf("For(x, 0) = %d, want 0", got)
	}
}

func TestFor_Distribution(t *testing.T) {
	// 1 000 devices over 256 lanes should hit at least 100 distinct lanes.
	seen := make(map[int]struct{})
	for i := 0; i < 1000; i++ {
		seen[For("10.0."+strconv.Itoa(i/256)+"."+strconv.Itoa(i%256)+":502", 256)] = struct{}{}
	}
	if len(seen) < 100 {
		t.Errorf("only %d distinct lanes from 1000 inputs, want >= 100", len(seen))
	}
}
