package general

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Behavior is a bit set of the malicious behaviors a traitorous general can
// exhibit. The zero value is loyal.
type Behavior uint32

const (
	// Silent generals send no messages at all.
	Silent Behavior = 1 << iota
	// DelaySend generals sleep before each send.
	DelaySend
	// PartialSend generals drop a fraction of their sends.
	PartialSend
	// WrongOrder commanders occasionally flip the order they broadcast.
	// Rejected for lieutenants at startup.
	WrongOrder
)

const (
	partialSendP = 0.75
	wrongOrderP  = 0.30
	delayQuantum = 100 * time.Millisecond
)

// Exhibits reports whether b includes the test behavior.
func (b Behavior) Exhibits(test Behavior) bool {
	return b&test != 0
}

func (b Behavior) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	if b.Exhibits(Silent) {
		parts = append(parts, "silent")
	}
	if b.Exhibits(DelaySend) {
		parts = append(parts, "delay_send")
	}
	if b.Exhibits(PartialSend) {
		parts = append(parts, "partial_send")
	}
	if b.Exhibits(WrongOrder) {
		parts = append(parts, "wrong_order")
	}
	return strings.Join(parts, "|")
}

// ParseBehavior maps a behavior string to its Behavior bit.
func ParseBehavior(s string) (Behavior, error) {
	switch s {
	case "silent":
		return Silent, nil
	case "delay_send":
		return DelaySend, nil
	case "partial_send":
		return PartialSend, nil
	case "wrong_order":
		return WrongOrder, nil
	}
	return 0, fmt.Errorf(`malicious behavior can be one of {"silent", "delay_send", "partial_send", "wrong_order"}`)
}

// shouldSendMsg decides whether to send a given message at all. Called once
// per (message, recipient) pair, so a partial sender drops each send
// independently.
func (g *general) shouldSendMsg() bool {
	if g.behavior.Exhibits(Silent) {
		return false
	}
	if g.behavior.Exhibits(PartialSend) {
		return rand.Float64() < partialSendP
	}
	return true
}

// maybeDelaySend sleeps for a Poisson-distributed number of delay quanta
// centered at half the round timeout. Called from sender workers, so the
// delay never blocks the receive loop.
func (g *general) maybeDelaySend() {
	if !g.behavior.Exhibits(DelaySend) {
		return
	}
	quanta := poissonDelayQuanta()
	if quanta <= 0 {
		return
	}
	time.Sleep(time.Duration(quanta) * delayQuantum)
}

var (
	delayMu   sync.Mutex
	delayDist = distuv.Poisson{
		Lambda: float64(roundTimeout/delayQuantum) / 2,
		Src:    exprand.NewSource(uint64(time.Now().UnixNano())),
	}
)

// poissonDelayQuanta samples the delay distribution. Sender workers share
// the source, so sampling is serialized.
func poissonDelayQuanta() int {
	delayMu.Lock()
	defer delayMu.Unlock()
	return int(delayDist.Rand())
}
