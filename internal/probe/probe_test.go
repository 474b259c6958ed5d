package probe

import "testing"

func TestMedian(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{[]float64{70, 90, 300}, 90},
		{[]float64{1}, 1},
		{[]float64{1, 3}, 2},
		{nil, 0},
	}
	for _, c := range cases {
		got := median(c.in)
		if got != c.want {
			t.Fatalf("median(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}
