// Package shadowaddr holds the value types shared by the Topology Router and
// the Simulation Engine: the stable host handle and the immutable
// latency/reliability summary of a route between two hosts.
package shadowaddr

import "fmt"

// ID is the 32-bit stable handle identifying a virtual host for the
// lifetime of a run. Equality and hashing of an Address use ID alone.
type ID uint32

// Address is a virtual host's stable identity plus its virtual IPv4. Two
// Address values are equal iff their ID fields match; VirtualIP is carried
// alongside but never participates in equality or hashing, and the Router
// neither reads it nor uses it for candidate filtering (Hints do that).
type Address struct {
	ID        ID
	VirtualIP uint32
}

func (a Address) String() string {
	return fmt.Sprintf("shadow#%d", uint32(a.ID))
}

// Equal reports whether a and b name the same host.
func (a Address) Equal(b Address) bool {
	return a.ID == b.ID
}

// Path is an immutable record summarizing a shortest route between two
// attached hosts. Once constructed it is shared by every reader and never
// mutated; the same *Path pointer is safe to hand out to arbitrarily many
// concurrent callers.
type Path struct {
	// Latency carries the GraphML "latency" attribute's native unit
	// (milliseconds) unchanged, summed hop-by-hop along the shortest
	// route. It is never negative.
	Latency float64
	// Reliability is the end-to-end delivery probability, in [0,1].
	Reliability float64
}

// NewPath constructs an immutable Path. It is the only way to produce one,
// so every *Path in the system is safe to publish to readers without a copy.
func NewPath(latency, reliability float64) *Path {
	return &Path{Latency: latency, Reliability: reliability}
}
