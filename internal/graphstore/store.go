// Package graphstore owns the parsed topology graph and serializes every
// access to it. The underlying graph library locks its own vertex/edge maps
// per call, but a shortest-path query is a multi-step sequence — derive a
// weight vector, run Dijkstra, walk the result, read edge/vertex attributes
// — that must appear atomic to concurrent callers. Store wraps that whole
// sequence behind one exclusive lock, expressed as a scoped handle: the
// existence of a *Handle is the proof the lock is held.
package graphstore

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dijkstra"
)

// latencyScale converts the GraphML latency attribute (milliseconds,
// floating point) into the integer edge weight lvlath's Dijkstra requires.
// Microsecond resolution keeps rounding error well below anything a route
// comparison would notice.
const latencyScale = 1000.0

type vertexInfo struct {
	ID            string
	Type          string
	IsPoI         bool
	IP            string
	Geocode       string
	BandwidthUp   float64
	BandwidthDown float64
	PacketLoss    float64
}

type edgeInfo struct {
	Latency    float64
	Jitter     float64
	PacketLoss float64
}

// Store owns the parsed directed, weighted graph plus the side tables
// lvlath has no room for (edge attributes) and the bookkeeping (PoI index,
// cumulative Dijkstra CPU time) the query layer needs.
type Store struct {
	mu sync.Mutex
	g  *core.Graph

	vertices map[string]vertexInfo // by vertex ID
	edges    map[string]edgeInfo   // by lvlath edge ID
	edgeID   map[[2]string]string  // (from,to) -> lvlath edge ID

	poiIDs []string // stable order: load order

	shortestPathTotalNS atomic.Int64

	log *slog.Logger
}

// Load parses path as GraphML against the topology schema, builds the
// directed weighted graph, validates strong connectivity, and returns a
// ready-to-query Store. Any failure aborts construction; the Store (and
// therefore the Engine) is never partially built.
func Load(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: IO, Detail: path, Err: err}
	}
	defer f.Close()

	pg, err := decodeGraphML(f)
	if err != nil {
		return nil, &LoadError{Kind: Parse, Detail: path, Err: err}
	}

	s := &Store{
		g:        core.NewGraph(core.WithDirected(true), core.WithWeighted()),
		vertices: make(map[string]vertexInfo, len(pg.Vertices)),
		edges:    make(map[string]edgeInfo, len(pg.Edges)),
		edgeID:   make(map[[2]string]string, len(pg.Edges)),
		log:      log,
	}

	for _, v := range pg.Vertices {
		info := vertexInfo{ID: v.ID}

		typ, err := requireAttr(v.Attrs, "type")
		if err != nil {
			return nil, &LoadError{Kind: MissingAttribute, Detail: "vertex " + v.ID + ": " + err.Error()}
		}
		info.Type = typ
		info.IsPoI = strings.Contains(v.ID, "poi")

		if info.IsPoI {
			ip, err := requireAttr(v.Attrs, "ip")
			if err != nil {
				return nil, &LoadError{Kind: MissingAttribute, Detail: "vertex " + v.ID + ": " + err.Error()}
			}
			geocode, err := requireAttr(v.Attrs, "geocode")
			if err != nil {
				return nil, &LoadError{Kind: MissingAttribute, Detail: "vertex " + v.ID + ": " + err.Error()}
			}
			bwUp, err := parseFloatAttr(v.Attrs, "bandwidthup")
			if err != nil {
				return nil, &LoadError{Kind: MissingAttribute, Detail: "vertex " + v.ID + ": " + err.Error()}
			}
			bwDown, err := parseFloatAttr(v.Attrs, "bandwidthdown")
			if err != nil {
				return nil, &LoadError{Kind: MissingAttribute, Detail: "vertex " + v.ID + ": " + err.Error()}
			}
			ploss, err := parseFloatAttr(v.Attrs, "packetloss")
			if err != nil {
				return nil, &LoadError{Kind: MissingAttribute, Detail: "vertex " + v.ID + ": " + err.Error()}
			}
			info.IP = ip
			info.Geocode = geocode
			info.BandwidthUp = bwUp
			info.BandwidthDown = bwDown
			info.PacketLoss = ploss
			s.poiIDs = append(s.poiIDs, v.ID)
		}

		if err := s.g.AddVertex(v.ID); err != nil {
			return nil, &LoadError{Kind: Parse, Detail: "vertex " + v.ID, Err: err}
		}
		s.vertices[v.ID] = info
		log.Debug("graphstore: loaded vertex", "id", v.ID, "type", info.Type, "poi", info.IsPoI)
	}

	for _, e := range pg.Edges {
		latency, err := parseFloatAttr(e.Attrs, "latency")
		if err != nil {
			return nil, &LoadError{Kind: MissingAttribute, Detail: "edge " + e.Source + "->" + e.Target + ": " + err.Error()}
		}
		jitter, err := parseFloatAttr(e.Attrs, "jitter")
		if err != nil {
			return nil, &LoadError{Kind: MissingAttribute, Detail: "edge " + e.Source + "->" + e.Target + ": " + err.Error()}
		}
		ploss, err := parseFloatAttr(e.Attrs, "packetloss")
		if err != nil {
			return nil, &LoadError{Kind: MissingAttribute, Detail: "edge " + e.Source + "->" + e.Target + ": " + err.Error()}
		}
		if latency <= 0 {
			return nil, &LoadError{Kind: Parse, Detail: "edge " + e.Source + "->" + e.Target + ": latency must be > 0"}
		}

		weight := int64(math.Round(latency * latencyScale))
		eid, err := s.g.AddEdge(e.Source, e.Target, weight)
		if err != nil {
			return nil, &LoadError{Kind: Parse, Detail: "edge " + e.Source + "->" + e.Target, Err: err}
		}
		s.edges[eid] = edgeInfo{Latency: latency, Jitter: jitter, PacketLoss: ploss}
		s.edgeID[[2]string{e.Source, e.Target}] = eid
		log.Debug("graphstore: loaded edge", "from", e.Source, "to", e.Target, "latency", latency)
	}

	if clusters, ok := checkStronglyConnected(s.g); !ok {
		return nil, &LoadError{Kind: NotConnected, Detail: clusterDetail(clusters)}
	}

	return s, nil
}

func clusterDetail(clusters int) string {
	if clusters == 0 {
		return "empty graph"
	}
	return "cluster count " + strconv.Itoa(clusters)
}

// WithGraph is the Graph Store's one entry point: it acquires the exclusive
// graph lock, hands the caller a *Handle scoped to the call, and releases
// the lock on every exit path including a panic recovered by the caller's
// own errgroup boundary.
func (s *Store) WithGraph(fn func(h *Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Handle{s: s})
}

// AddShortestPathTime accumulates wall-clock time spent inside Dijkstra.
// Callers invoke this themselves (from inside a WithGraph callback, around
// the ShortestPath call) since the Handle itself has no wall-clock concern.
func (s *Store) AddShortestPathTime(d time.Duration) {
	s.shortestPathTotalNS.Add(int64(d))
}

// ShortestPathTotal returns the cumulative Dijkstra CPU time recorded so
// far. The Path Cache logs this value when it is cleared.
func (s *Store) ShortestPathTotal() time.Duration {
	return time.Duration(s.shortestPathTotalNS.Load())
}

// Handle is proof that the Store's exclusive graph lock is held. Every
// attribute accessor and shortest-path query is a method on *Handle so the
// precondition can never be silently forgotten.
type Handle struct {
	s *Store
}

// VertexType returns the vertex's "type" attribute and whether it exists.
func (h *Handle) VertexType(id string) (string, bool) {
	v, ok := h.s.vertices[id]
	if !ok {
		return "", false
	}
	return v.Type, true
}

// IsPoI reports whether id names a point-of-interest vertex.
func (h *Handle) IsPoI(id string) bool {
	v, ok := h.s.vertices[id]
	return ok && v.IsPoI
}

// PoIAttrs returns the PoI-only attributes for id. ok is false if id is not
// a known PoI vertex.
func (h *Handle) PoIAttrs(id string) (ip, geocode string, bwUp, bwDown, packetLoss float64, ok bool) {
	v, found := h.s.vertices[id]
	if !found || !v.IsPoI {
		return "", "", 0, 0, 0, false
	}
	return v.IP, v.Geocode, v.BandwidthUp, v.BandwidthDown, v.PacketLoss, true
}

// VertexPacketLoss returns a vertex's packet loss (not its complement).
// Non-PoI vertices (and unknown IDs) have zero loss.
func (h *Handle) VertexPacketLoss(id string) float64 {
	v, ok := h.s.vertices[id]
	if !ok || !v.IsPoI {
		return 0
	}
	return v.PacketLoss
}

// EdgeAttrs returns the latency/jitter/packetloss recorded for the directed
// edge from->to, if one exists.
func (h *Handle) EdgeAttrs(from, to string) (latency, jitter, packetLoss float64, ok bool) {
	eid, found := h.s.edgeID[[2]string{from, to}]
	if !found {
		return 0, 0, 0, false
	}
	info := h.s.edges[eid]
	return info.Latency, info.Jitter, info.PacketLoss, true
}

// PoIIDs returns every point-of-interest vertex ID, in load order.
func (h *Handle) PoIIDs() []string {
	out := make([]string, len(h.s.poiIDs))
	copy(out, h.s.poiIDs)
	return out
}

// HasVertex reports whether id is a known vertex.
func (h *Handle) HasVertex(id string) bool {
	return h.s.g.HasVertex(id)
}

// ShortestPath runs Dijkstra from src and returns the ordered vertex
// sequence to dst (inclusive of both endpoints), or ok=false if dst is
// unreachable (should not happen on a strongly connected graph, but the
// underlying library can still report it as a GraphLibraryError condition).
func (h *Handle) ShortestPath(src, dst string) (path []string, ok bool, err error) {
	if src == dst {
		return []string{src}, true, nil
	}

	_, predecessors, derr := dijkstra.Dijkstra(h.s.g, dijkstra.Source(src), dijkstra.WithReturnPath())
	if derr != nil {
		return nil, false, &GraphLibraryError{Op: "dijkstra", Err: derr}
	}

	// Walk predecessors back from dst to src.
	var rev []string
	cur := dst
	for cur != src {
		rev = append(rev, cur)
		prev, found := predecessors[cur]
		if !found {
			return nil, false, nil
		}
		cur = prev
	}
	rev = append(rev, src)

	out := make([]string, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out, true, nil
}
