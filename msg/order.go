package msg

import "fmt"

// Order is the command the generals are agreeing on. Retreat and Attack are
// the two real choices; NoOrder is carried by forwarded messages whose order
// the receiver has already recorded (per the paper: "a message reporting that
// he will not send such a message").
type Order uint32

const (
	Retreat Order = iota
	Attack
	NoOrder
)

// Valid reports whether o is one of the three wire-encodable orders.
func (o Order) Valid() bool {
	return o <= NoOrder
}

func (o Order) String() string {
	switch o {
	case Retreat:
		return "retreat"
	case Attack:
		return "attack"
	case NoOrder:
		return "no_order"
	default:
		return fmt.Sprintf("order(%d)", uint32(o))
	}
}

// ParseOrder maps an order string to an Order. Only the two real orders
// parse; NoOrder is internal to the protocol and never configured.
func ParseOrder(s string) (Order, error) {
	switch s {
	case "retreat":
		return Retreat, nil
	case "attack":
		return Attack, nil
	}
	return 0, fmt.Errorf(`order can either be "attack" or "retreat"`)
}
