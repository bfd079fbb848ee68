// Package box implements BoxConnection (C8): the per-connection
// receiver/sender goroutine pair serving one SMS or WAP box socket, plus the
// heartbeat watchdog and least-loaded box picker that sit above a pool of
// connections.
package box

import "strings"

// AllowDenyPolicy is the IP prefix allow/deny policy applied to an incoming
// box connection's remote address, mirroring the `smsbox`/`wapbox` config
// tables' allow-ip/deny-ip lists.
type AllowDenyPolicy struct {
	AllowIP []string
	DenyIP  []string
}

// Allowed reports whether ip may connect: any DenyIP prefix match rejects
// outright; if AllowIP is non-empty, ip must match one of its prefixes.
func (p AllowDenyPolicy) Allowed(ip string) bool {
	for _, d := range p.DenyIP {
		if strings.HasPrefix(ip, d) {
			return false
		}
	}
	if len(p.AllowIP) == 0 {
		return true
	}
	for _, a := range p.AllowIP {
		if strings.HasPrefix(ip, a) {
			return true
		}
	}
	return false
}
