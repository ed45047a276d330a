package topology

import "errors"

// ErrNoCandidate is returned by Attach when, after hint filtering, no PoI
// vertex remains to bind the address to.
var ErrNoCandidate = errors.New("topology: no candidate point-of-interest vertex available")
