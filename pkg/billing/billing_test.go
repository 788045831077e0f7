package billing

import "testing"

func TestFormatCents(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{150, "$1.50"},
		{123456, "$1234.56"},
		{-250, "-$2.50"},
	}
	for _, tc := range cases {
		if got := FormatCents(tc.cents); got != tc.want {
			t.Errorf("FormatCents(%d) = %s, want %s", tc.cents, got, tc.want)
		}
	}
}
