// Package topology implements the Topology Router: it attaches virtual
// host addresses to points-of-interest in the loaded graph and answers
// latency/reliability/routability queries, consulting the path cache before
// ever touching the graph lock.
package topology

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/okdaichi/shadowsim/internal/graphstore"
	"github.com/okdaichi/shadowsim/internal/observability"
	"github.com/okdaichi/shadowsim/internal/pathcache"
	"github.com/okdaichi/shadowsim/internal/shadowaddr"
)

// handleView is the subset of *graphstore.Handle the hint filter needs; kept
// as an alias rather than a narrower interface since graphstore.Handle's
// entire surface is already scoped to "the graph lock is held".
type handleView = *graphstore.Handle

// RandomSource supplies the uniform [0,1) draw Attach uses for candidate
// selection. *rand.Rand satisfies this trivially; tests can substitute a
// deterministic source.
type RandomSource interface {
	Float64() float64
}

// AttachResult reports the chosen PoI vertex's advertised bandwidths.
type AttachResult struct {
	BandwidthDown float64
	BandwidthUp   float64
}

// Router is the Topology Router: the virtual-IP attachment table plus the
// Graph Store and Path Cache it queries through.
type Router struct {
	store *graphstore.Store
	cache *pathcache.Cache
	log   *slog.Logger

	mu     sync.RWMutex
	byAddr map[shadowaddr.ID]string // address ID -> vertex ID
}

// New constructs a Router over an already-loaded Store and a fresh Cache.
func New(store *graphstore.Store, cache *pathcache.Cache, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		store:  store,
		cache:  cache,
		log:    log,
		byAddr: make(map[shadowaddr.ID]string),
	}
}

// Attach binds addr to a uniformly sampled PoI vertex (after hint
// filtering), recording the mapping under the virtual-IP writer lock. It
// fails with ErrNoCandidate if the filtered candidate set is empty.
func (r *Router) Attach(addr shadowaddr.Address, rng RandomSource, hints Hints) (AttachResult, error) {
	var (
		chosen       string
		bwUp, bwDown float64
	)

	err := r.store.WithGraph(func(h *graphstore.Handle) error {
		candidates := filterCandidates(h, h.PoIIDs(), hints)
		if len(candidates) == 0 {
			return ErrNoCandidate
		}

		idx := int(math.Floor(rng.Float64() * float64(len(candidates))))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(candidates) {
			idx = len(candidates) - 1
		}
		chosen = candidates[idx]

		_, _, up, down, _, ok := h.PoIAttrs(chosen)
		if !ok {
			return fmt.Errorf("topology: chosen candidate %s has no PoI attributes", chosen)
		}
		bwUp, bwDown = up, down
		return nil
	})
	if err != nil {
		return AttachResult{}, err
	}

	r.mu.Lock()
	r.byAddr[addr.ID] = chosen
	r.mu.Unlock()

	return AttachResult{BandwidthUp: bwUp, BandwidthDown: bwDown}, nil
}

// Detach removes addr's attachment. Paths already cached that reference addr
// remain — harmless, since the topology is static and a ShadowID is never
// reissued within a run.
func (r *Router) Detach(addr shadowaddr.Address) {
	r.mu.Lock()
	delete(r.byAddr, addr.ID)
	r.mu.Unlock()
}

func (r *Router) vertexFor(id shadowaddr.ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byAddr[id]
	return v, ok
}

// GetLatency returns the cached or freshly computed latency between two
// attached addresses, or -1 if either is unattached or the query failed.
func (r *Router) GetLatency(src, dst shadowaddr.Address) float64 {
	p, ok := r.route(src, dst)
	if !ok {
		return -1
	}
	return p.Latency
}

// GetReliability mirrors GetLatency for the reliability component.
func (r *Router) GetReliability(src, dst shadowaddr.Address) float64 {
	p, ok := r.route(src, dst)
	if !ok {
		return -1
	}
	return p.Reliability
}

// IsRoutable reports whether both addresses are attached and a path was
// computed successfully.
func (r *Router) IsRoutable(src, dst shadowaddr.Address) bool {
	_, ok := r.route(src, dst)
	return ok
}

func (r *Router) route(src, dst shadowaddr.Address) (*shadowaddr.Path, bool) {
	srcVertex, ok1 := r.vertexFor(src.ID)
	dstVertex, ok2 := r.vertexFor(dst.ID)
	if !ok1 || !ok2 {
		r.log.Warn("topology: route query against unattached address", "src", src, "dst", dst)
		return nil, false
	}

	p, _, err := r.cache.GetOrCompute(src.ID, dst.ID, func() (*shadowaddr.Path, error) {
		return r.computePath(srcVertex, dstVertex)
	})
	if err != nil {
		r.log.Error("topology: shortest path computation failed", "src", srcVertex, "dst", dstVertex, "err", err)
		return nil, false
	}
	return p, true
}

// computePath runs Dijkstra over edge weight = latency with the graph lock
// held throughout, then walks the result summing latency and multiplying
// loss complements into an end-to-end reliability.
func (r *Router) computePath(srcVertex, dstVertex string) (*shadowaddr.Path, error) {
	_, span := observability.Start(context.Background(), "topology.computePath")
	span.Set(observability.SrcVertex(srcVertex), observability.DstVertex(dstVertex))
	defer span.End()

	var result *shadowaddr.Path

	err := r.store.WithGraph(func(h *graphstore.Handle) error {
		start := time.Now()
		seq, ok, err := h.ShortestPath(srcVertex, dstVertex)
		r.store.AddShortestPathTime(time.Since(start))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topology: no path from %s to %s", srcVertex, dstVertex)
		}

		if len(seq) <= 1 {
			reliability := (1 - h.VertexPacketLoss(srcVertex)) * (1 - h.VertexPacketLoss(dstVertex))
			result = shadowaddr.NewPath(1.0, reliability)
			return nil
		}

		reliability := (1 - h.VertexPacketLoss(seq[0])) * (1 - h.VertexPacketLoss(seq[len(seq)-1]))
		var latency float64
		for i := 0; i+1 < len(seq); i++ {
			lat, _, ploss, ok := h.EdgeAttrs(seq[i], seq[i+1])
			if !ok {
				return fmt.Errorf("topology: missing edge attrs for %s->%s", seq[i], seq[i+1])
			}
			latency += lat
			reliability *= 1 - ploss
		}
		result = shadowaddr.NewPath(latency, reliability)
		return nil
	})
	if err != nil {
		span.Error(err, "shortest path computation failed")
		return nil, err
	}
	return result, nil
}
