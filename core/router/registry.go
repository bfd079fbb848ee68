// Package router implements the SMS and WDP routers (C6/C7): the two
// goroutines that pick, for each outbound message, which SMSC connection
// (or, for WDP, which UDP peer) should carry it, based on the sending
// SMSC's MatchLevel and current load.
package router

import (
	"github.com/kannelgo/bearerbox/core/registry"
	"github.com/kannelgo/bearerbox/core/smsc"
)

// SmscRegistry is the arena-indexed registry of live SMSC connections
// shared by the SMS and WDP routers. It wraps registry.Registry[smsc.Conn] and adds the
// drain-avalanche bookkeeping the routers rely on: each SMSC's outgoing
// queue carries one producer token per router that might feed it (the SMS
// router always; the WDP router only when the driver accepts WDP), so the
// SMSC's sender goroutine only sees its queue drain once every router that
// could have produced into it has shut down.
type SmscRegistry struct {
	*registry.Registry[smsc.Conn]
}

// NewSmscRegistry returns an empty SmscRegistry.
func NewSmscRegistry() *SmscRegistry {
	return &SmscRegistry{registry.New[smsc.Conn]()}
}

// RegisterSmsc adds c to the registry and registers the appropriate router
// producer tokens on its outgoing queue. Call this once, before c.Start, for
// every configured SMSC connection, so the sender goroutine never finds its
// queue drained before the router tokens are in place.
func (r *SmscRegistry) RegisterSmsc(c *smsc.Conn) registry.ID {
	id := r.Add(c)
	c.Outgoing().AddProducer() // the SMS router's token
	if c.Driver().AcceptsWDP() {
		c.Outgoing().AddProducer() // the WDP router's token
	}
	return id
}

// DrainAll removes the SMS router's producer token from every live SMSC's
// outgoing queue. Called once, when outgoingSMS itself has drained.
func (r *SmscRegistry) DrainAll() {
	r.EachLocked(func(_ registry.ID, c *smsc.Conn) {
		c.Outgoing().RemoveProducer()
	})
}

// DrainWDP removes the WDP router's producer token from every WDP-capable
// SMSC's outgoing queue. Called once, when outgoingWDP itself has drained.
func (r *SmscRegistry) DrainWDP() {
	r.EachLocked(func(_ registry.ID, c *smsc.Conn) {
		if c.Driver().AcceptsWDP() {
			c.Outgoing().RemoveProducer()
		}
	})
}
