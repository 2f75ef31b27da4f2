package general

import "testing"

func TestMessagesForRound(t *testing.T) {
	cases := []struct {
		processNum int
		round      uint32
		want       int
	}{
		{4, 0, 1},
		{4, 1, 2},
		{4, 2, 2},
		{5, 0, 1},
		{5, 1, 3},
		{5, 2, 6},
		{6, 1, 4},
		{6, 2, 12},
		{6, 3, 24},
		{7, 0, 1},
		{7, 1, 5},
		{7, 2, 20},
		{7, 3, 60},
	}
	for _, c := range cases {
		if got := MessagesForRound(c.processNum, c.round); got != c.want {
			t.Errorf("MessagesForRound(%d, %d) = %d, want %d",
				c.processNum, c.round, got, c.want)
		}
	}
}
