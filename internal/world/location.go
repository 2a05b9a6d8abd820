package world

import (
	"strings"

	"github.com/nvandessel/worldline/internal/timestream"
)

// Location is where a thing can be: a place, a portal it is travelling
// through, or another thing containing it.
type Location interface {
	Entity
	// Descriptor is the string stored in a thing's location series.
	Descriptor() string
}

// PortalDesc is a parsed Portal(origin->destination) descriptor.
type PortalDesc struct {
	Origin      string
	Destination string
}

func (d PortalDesc) String() string {
	return portalDescriptor(d.Origin, d.Destination)
}

func portalDescriptor(origin, destination string) string {
	return "Portal(" + origin + "->" + destination + ")"
}

// ParsePortal parses a Portal(origin->destination) descriptor.
func ParsePortal(s string) (PortalDesc, bool) {
	inner, ok := strings.CutPrefix(s, "Portal(")
	if !ok {
		return PortalDesc{}, false
	}
	inner, ok = strings.CutSuffix(inner, ")")
	if !ok {
		return PortalDesc{}, false
	}
	orig, dest, ok := strings.Cut(inner, "->")
	if !ok || orig == "" || dest == "" {
		return PortalDesc{}, false
	}
	return PortalDesc{Origin: orig, Destination: dest}, true
}

// decodeLocation turns a stored descriptor back into a handle, using the
// node kind recorded at t. Deleted targets still decode so that history
// stays readable.
func (c *Character) decodeLocation(desc string, t timestream.Time) Location {
	at := c.w.At(t).character(c.name)
	if pd, ok := ParsePortal(desc); ok {
		return at.portal(pd.Origin, pd.Destination)
	}
	if k, ok := at.nodeKind(desc); ok && k == KindThing {
		return at.thing(desc)
	}
	f, err := c.w.facts.GetAt(TableNodes, nodeKey(c.name, desc), t.Branch, t.Tick)
	if err == nil && f.Value == nil {
		// Deleted by t; look at the kind it had just before.
		if prev, err := c.w.facts.GetAt(TableNodes, nodeKey(c.name, desc), f.Branch, f.Tick-1); err == nil && prev.Value == string(KindThing) {
			return at.thing(desc)
		}
	}
	return at.place(desc)
}
