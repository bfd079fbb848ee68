package box

import (
	"github.com/kannelgo/bearerbox/core/registry"
)

// Registry is the arena-indexed registry of live box connections, shared by
// the heartbeat watchdog and the two Dispatchers.
type Registry struct {
	*registry.Registry[Conn]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{registry.New[Conn]()}
}

// Register adds conn to the registry and registers both dispatchers'
// producer tokens on its private inbox, mirroring
// router.SmscRegistry.RegisterSmsc's dual-producer-token bookkeeping: a box
// connection's inbox is fed by both the SMS dispatcher and the WDP
// dispatcher, so it only drains once both have deregistered.
func (r *Registry) Register(conn *Conn) registry.ID {
	id := r.Add(conn)
	conn.Inbox().AddProducer() // the SMS dispatcher's token
	conn.Inbox().AddProducer() // the WDP dispatcher's token
	return id
}

// DrainSMS removes the SMS dispatcher's producer token from every live
// connection's inbox. Called once the global incomingSMS queue has drained.
func (r *Registry) DrainSMS() {
	r.EachLocked(func(_ registry.ID, c *Conn) {
		c.Inbox().RemoveProducer()
	})
}

// DrainWDP removes the WDP dispatcher's producer token from every live
// connection's inbox. Called once the global incomingWDP queue has drained.
func (r *Registry) DrainWDP() {
	r.EachLocked(func(_ registry.ID, c *Conn) {
		c.Inbox().RemoveProducer()
	})
}

// PickSMSBox returns the live, non-killed connection with the lowest
// reported Load, ties broken by registration order — the supplemented
// SMS-box picker feature (see design notes): when more than one SMS box is
// connected, an inbound MO message needs a single recipient, chosen the same
// way the SMS router chooses an SMSC.
func (r *Registry) PickSMSBox() *Conn {
	var best *Conn
	r.EachLocked(func(_ registry.ID, c *Conn) {
		if c.Killed() {
			return
		}
		if best == nil || c.Load() < best.Load() {
			best = c
		}
	})
	return best
}
