package graphstore

import "fmt"

// Kind classifies why a graph failed to load.
type Kind int

const (
	// IO means the GraphML file could not be opened or read.
	IO Kind = iota
	// Parse means the file is not well-formed GraphML, an edge latency is
	// not > 0, or the graph library rejects a vertex or edge.
	Parse
	// MissingAttribute means a required vertex or edge attribute is
	// absent, or a numeric one does not parse as a number.
	MissingAttribute
	// NotConnected means the loaded graph is not strongly connected.
	NotConnected
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "IO"
	case Parse:
		return "Parse"
	case MissingAttribute:
		return "MissingAttribute"
	case NotConnected:
		return "NotConnected"
	default:
		return "Unknown"
	}
}

// LoadError is the fatal, construction-time error returned by Load. Graph
// loading either fully succeeds or the Store (and therefore the Engine) is
// never created.
type LoadError struct {
	Kind Kind
	// Detail is a human-readable description (file path, offending
	// vertex/edge ID, cluster count, ...).
	Detail string
	// Err is the underlying error, if any (e.g. an *os.PathError or an
	// xml.SyntaxError).
	Err error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("graphstore: load failed (%s): %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("graphstore: load failed (%s): %s", e.Kind, e.Detail)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// GraphLibraryError wraps a non-success result from the underlying graph
// primitive encountered during a query (not at load time). Callers recover
// locally: the query returns its documented failure sentinel and the graph
// lock is released normally; the cache is never poisoned by this error.
type GraphLibraryError struct {
	Op  string
	Err error
}

func (e *GraphLibraryError) Error() string {
	return fmt.Sprintf("graphstore: %s: %v", e.Op, e.Err)
}

func (e *GraphLibraryError) Unwrap() error {
	return e.Err
}
