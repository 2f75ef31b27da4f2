// Package general implements the oral-messages Byzantine Agreement Algorithm
// of Lamport, Shostak & Pease (1982). A commander broadcasts an order to n-1
// lieutenants over UDP, the lieutenants relay what they heard for faulty+1
// rounds, and every loyal lieutenant arrives at the same decision provided
// n >= faulty + 2.
package general

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nvanbenschoten/byzantine-agreement/msg"
	"github.com/nvanbenschoten/byzantine-agreement/network"
)

const (
	ackTimeout   = 250 * time.Millisecond
	roundTimeout = time.Second
	sendAttempts = 3
)

// ProcessList holds the addresses of every participating process, ordered so
// that index i is the id of process i. Index 0 is always the commander.
type ProcessList []network.Address

// A General runs the agreement algorithm and decides on an order by
// coordinating with its peer processes.
type General interface {
	Decide() (msg.Order, error)
}

// general carries the configuration shared by the Commander and Lieutenant
// roles.
type general struct {
	processes ProcessList
	clients   []*network.Client
	id        uint32
	faulty    int
	behavior  Behavior
	log       logrus.FieldLogger

	round uint32
}

func newGeneral(processes ProcessList, id uint32, faulty int, behavior Behavior, log logrus.FieldLogger) (general, error) {
	clients, err := clientsForProcesses(processes)
	if err != nil {
		return general{}, err
	}
	return general{
		processes: processes,
		clients:   clients,
		id:        id,
		faulty:    faulty,
		behavior:  behavior,
		log:       log,
	}, nil
}

// clientsForProcesses dials one client per process. Clients live for the
// lifetime of the process and are shared read-only by every sender worker.
func clientsForProcesses(processes ProcessList) ([]*network.Client, error) {
	clients := make([]*network.Client, len(processes))
	for i, addr := range processes {
		client, err := network.Dial(addr, ackTimeout)
		if err != nil {
			return nil, err
		}
		clients[i] = client
	}
	return clients, nil
}

func (g *general) clientFor(pid uint32) *network.Client {
	return g.clients[pid]
}

func (g *general) firstRound() bool {
	return g.round == 0
}

func (g *general) lastRound() bool {
	return g.round == uint32(g.faulty)+1
}

func (g *general) incrementRound() {
	g.round++
	g.log.Debugf("moving to round %d", g.round)
}

func (g *general) closeClients() {
	for _, client := range g.clients {
		if client != nil {
			client.Close()
		}
	}
}

// sendMessage sends m to the client and waits for an acknowledgement
// carrying the same round, retrying the whole send a fixed number of times
// before treating the message as lost.
func sendMessage(client *network.Client, m msg.Message) error {
	buf := msg.EncodeMessage(m)
	return client.SendWithAck(buf, sendAttempts, func(reply []byte) network.Action {
		if round, ok := msg.DecodeAck(reply); ok && round == m.Round {
			return network.Stop
		}
		return network.Continue
	})
}
