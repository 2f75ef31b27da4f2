package general

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvanbenschoten/byzantine-agreement/msg"
	"github.com/nvanbenschoten/byzantine-agreement/network"
)

// Lieutenant is a general that receives the commander's order, relays what
// it heard for faulty+1 rounds, and decides.
type Lieutenant struct {
	general
	srv *network.Server

	// ordersSeen is the set of distinct real orders seen over the whole
	// run. NoOrder is filtered at entry and never appears here.
	ordersSeen map[msg.Order]struct{}

	// Per-round state, mutated only by the receive goroutine.

	// roundStart backs the round timeout. The socket timeout alone is not
	// enough: a faulty process could keep sending messages to re-arm it
	// without the round ever making progress.
	roundStart time.Time
	// msgsThisRound holds the messages accepted this round, to be
	// forwarded next round.
	msgsThisRound []msg.Message
	// chainsThisRound holds the chains accepted this round. The chain,
	// not the whole message, is the replay key: the already-seen rule may
	// rewrite a message's order after arrival, and both rewrites of one
	// chain must collide.
	chainsThisRound map[string]struct{}
	// senders holds this round's sender workers.
	senders Group
}

// NewLieutenant builds the lieutenant role, binding its server to the
// process's own port from the process list.
func NewLieutenant(processes ProcessList, id uint32, faulty int, behavior Behavior, log logrus.FieldLogger) (*Lieutenant, error) {
	srv, err := network.NewServer(processes[id].Port, roundTimeout)
	if err != nil {
		return nil, err
	}
	return newLieutenant(processes, id, faulty, behavior, srv, log)
}

func newLieutenant(processes ProcessList, id uint32, faulty int, behavior Behavior, srv *network.Server, log logrus.FieldLogger) (*Lieutenant, error) {
	g, err := newGeneral(processes, id, faulty, behavior, log)
	if err != nil {
		srv.Close()
		return nil, err
	}
	return &Lieutenant{
		general:         g,
		srv:             srv,
		ordersSeen:      make(map[msg.Order]struct{}),
		chainsThisRound: make(map[string]struct{}),
	}, nil
}

// Decide runs the lieutenant's side of the algorithm: listen until the final
// round completes or times out, then apply the decision rule.
func (l *Lieutenant) Decide() (msg.Order, error) {
	l.roundStart = time.Now()
	if err := l.srv.Listen(l.onReceive, l.handleRoundTimeout); err != nil {
		return 0, err
	}
	return l.decideOrder(), nil
}

// Close releases the lieutenant's server and peer clients. Closing the
// server aborts a Decide blocked in the listen loop.
func (l *Lieutenant) Close() {
	l.closeClients()
	l.srv.Close()
}

func (l *Lieutenant) onReceive(from *net.UDPAddr, buf []byte) network.Action {
	m, ok := msg.DecodeMessage(buf)
	if !ok || !l.validMessage(m, from.IP) {
		return l.continueUnlessTimeout()
	}
	l.log.Debugf("received %v from p%d", m, m.IDs[len(m.IDs)-1])

	// Acknowledge for our current round, not the message's. Replays are
	// acked too: the sender may be retrying because our last ack was lost.
	l.sendAck(from)

	if l.recordMessage(m) {
		return l.moveToNewRoundOrStop()
	}
	return l.continueUnlessTimeout()
}

// recordMessage folds a validated message into the round state and reports
// whether it completed the round.
func (l *Lieutenant) recordMessage(m msg.Message) bool {
	if l.firstRound() {
		// Only the first real order counts. A round-0 message carrying
		// no_order is dropped; we keep waiting for a real order.
		if m.Order == msg.NoOrder || len(l.ordersSeen) != 0 {
			return false
		}
		l.ordersSeen[m.Order] = struct{}{}
		l.msgsThisRound = append(l.msgsThisRound, m)
		return true
	}

	// A valid message from an earlier round is a replay of a chain this
	// process already advanced past, typically a peer retrying because our
	// ack was lost. The ack already sent is all it needs; recording the
	// message would plant a stale chain in the forward set.
	if m.Round != l.round {
		return false
	}

	key := chainKey(m.IDs)
	if _, replay := l.chainsThisRound[key]; replay {
		return false
	}
	l.chainsThisRound[key] = struct{}{}

	// Record an order the first time it is seen; forward no_order in its
	// place for any order already recorded.
	if m.Order != msg.NoOrder {
		if _, seen := l.ordersSeen[m.Order]; !seen {
			l.ordersSeen[m.Order] = struct{}{}
		} else {
			m.Order = msg.NoOrder
		}
	}
	l.msgsThisRound = append(l.msgsThisRound, m)

	return l.roundComplete()
}

func (l *Lieutenant) roundComplete() bool {
	return len(l.chainsThisRound) == MessagesForRound(len(l.processes), l.round)
}

// sendAck acknowledges receipt for the current round, from the server socket
// so the reply reaches the sender's connected client. Best effort: a lost
// ack costs the sender a retry, nothing more.
func (l *Lieutenant) sendAck(to *net.UDPAddr) {
	if err := l.srv.Send(msg.EncodeAck(l.round), to); err != nil {
		l.log.Debugf("ack to %v failed: %v", to, err)
	}
}

// continueUnlessTimeout keeps the listen loop running, handling a round
// timeout first if one has elapsed. The round timer is checked on every
// callback because the socket deadline alone is not sufficient: a hostile
// peer feeding us one junk datagram per second would re-arm it forever.
func (l *Lieutenant) continueUnlessTimeout() network.Action {
	if time.Since(l.roundStart) > roundTimeout {
		l.handleRoundTimeout()
	}
	return network.Continue
}

func (l *Lieutenant) handleRoundTimeout() network.Action {
	if l.firstRound() {
		// No timeout in round 0: without the commander's order there is
		// no progress to force. Keep waiting.
		return network.Continue
	}
	l.log.Debugf("timeout in round %d", l.round)
	return l.moveToNewRoundOrStop()
}

func (l *Lieutenant) moveToNewRoundOrStop() network.Action {
	if l.lastRound() {
		l.senders.Join()
		return network.Stop
	}
	l.initNewRound()
	return network.Continue
}

// initNewRound advances the round: waits out the prior round's senders,
// stages last round's messages for forwarding, launches one serial sender
// per recipient, and resets the per-round state.
func (l *Lieutenant) initNewRound() {
	l.senders.Join()
	l.incrementRound()

	for pid, queue := range l.stageForwards() {
		pid, queue := pid, queue
		client := l.clientFor(pid)
		l.senders.Go(func() {
			for _, m := range queue {
				l.maybeDelaySend()
				if err := sendMessage(client, m); err != nil {
					l.log.Debugf("send to p%d failed: %v", pid, err)
				}
			}
		})
	}

	l.chainsThisRound = make(map[string]struct{})
	l.msgsThisRound = nil
	l.roundStart = time.Now()
}

// stageForwards rewrites last round's messages for the new round and plans
// which processes receive each one. All rewrites happen before any sender
// launches, so workers only ever read finished messages.
func (l *Lieutenant) stageForwards() map[uint32][]msg.Message {
	toSend := make(map[uint32][]msg.Message)
	for _, m := range l.msgsThisRound {
		if m.Round != l.round-1 {
			panic(fmt.Sprintf("staged message %v not from round %d", m, l.round-1))
		}
		m.Round = l.round
		m.IDs = append(append([]uint32(nil), m.IDs...), l.id)

		// Send to every process not already in the chain.
		for pid := uint32(0); pid < uint32(len(l.processes)); pid++ {
			if containsID(m.IDs, pid) {
				continue
			}
			if l.shouldSendMsg() {
				l.log.Debugf("sending  %v to p%d", m, pid)
				toSend[pid] = append(toSend[pid], m)
			}
		}
	}
	return toSend
}

// validMessage guards the engine against malformed and adversarial
// messages: replays of future rounds, spoofed or self-referential chains,
// and forwards that do not come from the host they claim to.
func (l *Lieutenant) validMessage(m msg.Message, from net.IP) bool {
	// Messages from future rounds are dropped outright. Late arrivals
	// from the current or earlier rounds can still be useful.
	if m.Round > l.round {
		return false
	}
	// A round-r message carries a chain of exactly r+1 ids.
	if uint32(len(m.IDs)) != m.Round+1 {
		return false
	}
	// The first sender is always the commander.
	if m.IDs[0] != 0 {
		return false
	}
	seen := make(map[uint32]struct{}, len(m.IDs))
	for _, id := range m.IDs {
		if id >= uint32(len(l.processes)) {
			return false
		}
		if id == l.id {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	// The purported forwarder must match the datagram's source host. This
	// cannot tell apart processes sharing a machine.
	last := m.IDs[len(m.IDs)-1]
	return l.processes[last].SameHost(from)
}

// decideOrder applies the decision rule over the seen orders:
//
//	choice(V) = v        if V = {v}
//	          | retreat  if V = {} or |V| >= 2
func (l *Lieutenant) decideOrder() msg.Order {
	if len(l.ordersSeen) == 1 {
		if _, ok := l.ordersSeen[msg.Attack]; ok {
			return msg.Attack
		}
	}
	return msg.Retreat
}

func containsID(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// chainKey collapses a forwarding chain to a map key.
func chainKey(ids []uint32) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return b.String()
}
