package engine

import (
	"sync"
	"sync/atomic"
)

// Namespace names one of the Registry's three object spaces.
type Namespace string

const (
	// NamespaceSoftware holds per-host application handlers — the
	// out-of-scope "per-host application code" collaborator's registered
	// instances.
	NamespaceSoftware Namespace = "software"
	// NamespaceCDFs holds cumulative distribution functions used by
	// host handlers for randomized behavior.
	NamespaceCDFs Namespace = "cdfs"
	// NamespacePluginPaths holds filesystem paths to loadable plugin
	// modules (the out-of-scope plugin loader's inputs).
	NamespacePluginPaths Namespace = "pluginpaths"
)

// Registry is the Engine's store of global objects, keyed by namespace and
// integer ID. IDs for worker and node identity are generated by the
// Registry's own monotonic counters; namespace entry IDs are supplied by
// the caller.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[Namespace]map[int]any

	workerIDCounter atomic.Int64
	objectIDCounter atomic.Int64
}

// NewRegistry constructs an empty Registry with all three namespaces ready.
func NewRegistry() *Registry {
	return &Registry{
		namespaces: map[Namespace]map[int]any{
			NamespaceSoftware:    make(map[int]any),
			NamespaceCDFs:        make(map[int]any),
			NamespacePluginPaths: make(map[int]any),
		},
	}
}

// Put records item under (namespace, id), overwriting any prior entry.
func (r *Registry) Put(ns Namespace, id int, item any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.namespaces[ns]
	if !ok {
		bucket = make(map[int]any)
		r.namespaces[ns] = bucket
	}
	bucket[id] = item
}

// Get retrieves the entry at (namespace, id), if any.
func (r *Registry) Get(ns Namespace, id int) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket, ok := r.namespaces[ns]
	if !ok {
		return nil, false
	}
	item, ok := bucket[id]
	return item, ok
}

// GenerateWorkerID returns the next monotonic worker identifier, starting
// at 1.
func (r *Registry) GenerateWorkerID() int {
	return int(r.workerIDCounter.Add(1))
}

// GenerateNodeID returns the next monotonic node (object) identifier,
// starting at 1.
func (r *Registry) GenerateNodeID() int {
	return int(r.objectIDCounter.Add(1))
}
