package general

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/nvanbenschoten/byzantine-agreement/msg"
)

// Commander is the general that initiates agreement by broadcasting its
// order to every lieutenant. It never listens.
type Commander struct {
	general
	order msg.Order
}

// NewCommander builds the commander role. The commander is always process 0.
func NewCommander(processes ProcessList, faulty int, order msg.Order, behavior Behavior, log logrus.FieldLogger) (*Commander, error) {
	g, err := newGeneral(processes, 0, faulty, behavior, log)
	if err != nil {
		return nil, err
	}
	return &Commander{general: g, order: order}, nil
}

// Decide broadcasts the order to every lieutenant in parallel and returns
// the commander's true order. Parallel sends keep the lieutenants' rounds
// roughly aligned: a serial fan-out would let early recipients finish round
// 0 before late ones hear anything, defeating the round timeout they wait
// on for their peers.
func (c *Commander) Decide() (msg.Order, error) {
	var senders Group
	for pid := uint32(1); pid < uint32(len(c.processes)); pid++ {
		if !c.shouldSendMsg() {
			continue
		}
		pid := pid
		m := msg.Message{Round: c.round, Order: c.orderForMsg(), IDs: []uint32{0}}
		c.log.Debugf("sending  %v to p%d", m, pid)

		client := c.clientFor(pid)
		senders.Go(func() {
			c.maybeDelaySend()
			if err := sendMessage(client, m); err != nil {
				c.log.Debugf("send to p%d failed: %v", pid, err)
			}
		})
	}
	senders.Join()
	return c.order, nil
}

// Close releases the commander's peer clients.
func (c *Commander) Close() {
	c.closeClients()
}

// orderForMsg is the order placed in an outbound message. A wrong-order
// commander flips it some of the time, re-rolled per recipient, so
// different lieutenants may receive different orders.
func (c *Commander) orderForMsg() msg.Order {
	if c.behavior.Exhibits(WrongOrder) && rand.Float64() < wrongOrderP {
		if c.order == msg.Attack {
			return msg.Retreat
		}
		return msg.Attack
	}
	return c.order
}
