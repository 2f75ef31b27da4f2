package general

import (
	"testing"

	"github.com/nvanbenschoten/byzantine-agreement/msg"
)

func TestParseBehavior(t *testing.T) {
	cases := []struct {
		s    string
		want Behavior
	}{
		{"silent", Silent},
		{"delay_send", DelaySend},
		{"partial_send", PartialSend},
		{"wrong_order", WrongOrder},
	}
	for _, c := range cases {
		got, err := ParseBehavior(c.s)
		if err != nil || got != c.want {
			t.Errorf("ParseBehavior(%q) = %v, %v", c.s, got, err)
		}
	}
	for _, s := range []string{"", "loyal", "SILENT", "drop"} {
		if _, err := ParseBehavior(s); err == nil {
			t.Errorf("ParseBehavior(%q) did not fail", s)
		}
	}
}

func TestBehaviorString(t *testing.T) {
	cases := []struct {
		b    Behavior
		want string
	}{
		{0, "none"},
		{Silent, "silent"},
		{Silent | WrongOrder, "silent|wrong_order"},
		{DelaySend | PartialSend, "delay_send|partial_send"},
	}
	for _, c := range cases {
		if got := c.b.String(); got != c.want {
			t.Errorf("%d.String() = %q, want %q", c.b, got, c.want)
		}
	}
}

func TestShouldSendMsgLoyal(t *testing.T) {
	g := &general{}
	for i := 0; i < 100; i++ {
		if !g.shouldSendMsg() {
			t.Fatal("loyal general refused to send")
		}
	}
}

func TestShouldSendMsgSilent(t *testing.T) {
	g := &general{behavior: Silent}
	for i := 0; i < 100; i++ {
		if g.shouldSendMsg() {
			t.Fatal("silent general sent")
		}
	}
	// Silence wins even combined with other behaviors.
	g = &general{behavior: Silent | PartialSend}
	for i := 0; i < 100; i++ {
		if g.shouldSendMsg() {
			t.Fatal("silent partial-sender sent")
		}
	}
}

func TestShouldSendMsgPartial(t *testing.T) {
	g := &general{behavior: PartialSend}
	const trials = 10000
	sent := 0
	for i := 0; i < trials; i++ {
		if g.shouldSendMsg() {
			sent++
		}
	}
	// Mean 7500, stddev ~43. A 1000-wide window is over 10 sigma.
	if sent < 7000 || sent > 8000 {
		t.Errorf("partial sender sent %d of %d, want ~7500", sent, trials)
	}
}

func TestOrderForMsgLoyal(t *testing.T) {
	c := &Commander{general: general{}, order: msg.Attack}
	for i := 0; i < 100; i++ {
		if got := c.orderForMsg(); got != msg.Attack {
			t.Fatalf("loyal commander produced %v", got)
		}
	}
}

func TestOrderForMsgWrongOrder(t *testing.T) {
	c := &Commander{general: general{behavior: WrongOrder}, order: msg.Attack}
	const trials = 10000
	flipped := 0
	for i := 0; i < trials; i++ {
		switch c.orderForMsg() {
		case msg.Retreat:
			flipped++
		case msg.Attack:
		default:
			t.Fatal("wrong-order commander produced a non-order")
		}
	}
	// Mean 3000, stddev ~46.
	if flipped < 2500 || flipped > 3500 {
		t.Errorf("flipped %d of %d, want ~3000", flipped, trials)
	}
}

func TestMaybeDelaySendLoyal(t *testing.T) {
	// No DelaySend bit: returns without sleeping.
	g := &general{behavior: PartialSend}
	g.maybeDelaySend()
}

func TestPoissonDelayQuanta(t *testing.T) {
	if got := delayDist.Lambda; got != 5 {
		t.Fatalf("delay lambda = %v, want 5 (half the round timeout in quanta)", got)
	}
	const trials = 1000
	sum := 0
	for i := 0; i < trials; i++ {
		q := poissonDelayQuanta()
		if q < 0 {
			t.Fatalf("negative delay %d", q)
		}
		sum += q
	}
	mean := float64(sum) / trials
	if mean < 4 || mean > 6 {
		t.Errorf("mean delay %v quanta, want ~5", mean)
	}
}
