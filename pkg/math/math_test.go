package math

import "testing"

func TestDivRoundUp(t *testing.T) {
	for _, testCase := range []struct {
		a, b, wanted int64
	}{
		{0, 512, 0},
		{1, 512, 1},
		{511, 512, 1},
		{512, 512, 1},
		{513, 512, 2},
		{1000, 512, 2},
	} {
		if found := DivRoundUp(testCase.a, testCase.b); found != testCase.wanted {
			t.Fatalf(
				"DivRoundUp(%d, %d): wanted `%d`; found `%d`",
				testCase.a,
				testCase.b,
				testCase.wanted,
				found,
			)
		}
	}
}

func TestMinMax(t *testing.T) {
	if found := Min(3, 5); found != 3 {
		t.Fatalf("Min(3, 5): wanted `3`; found `%d`", found)
	}
	if found := Max(uint8(3), uint8(5)); found != 5 {
		t.Fatalf("Max(3, 5): wanted `5`; found `%d`", found)
	}
}
