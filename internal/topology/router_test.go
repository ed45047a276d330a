package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/okdaichi/shadowsim/internal/graphstore"
	"github.com/okdaichi/shadowsim/internal/pathcache"
	"github.com/okdaichi/shadowsim/internal/shadowaddr"
)

// fixedRNG always returns the same draw; enough to pin candidate selection
// down to a single deterministic vertex in tests with one eligible PoI.
type fixedRNG float64

func (f fixedRNG) Float64() float64 { return float64(f) }

func poiNode(id, ip, geocode string, ploss float64) string {
	return `<node id="` + id + `">
      <data key="k_type">host</data>
      <data key="k_ip">` + ip + `</data>
      <data key="k_geo">` + geocode + `</data>
      <data key="k_bwup">1000</data>
      <data key="k_bwdown">1000</data>
      <data key="k_vploss">` + floatStr(ploss) + `</data>
    </node>`
}

func floatStr(f float64) string {
	if f == 0 {
		return "0"
	}
	return "0.1"
}

const keyHeader = `<key id="k_type" for="node" attr.name="type"/>
  <key id="k_ip" for="node" attr.name="ip"/>
  <key id="k_geo" for="node" attr.name="geocode"/>
  <key id="k_bwup" for="node" attr.name="bandwidthup"/>
  <key id="k_bwdown" for="node" attr.name="bandwidthdown"/>
  <key id="k_vploss" for="node" attr.name="packetloss"/>
  <key id="k_latency" for="edge" attr.name="latency"/>
  <key id="k_jitter" for="edge" attr.name="jitter"/>
  <key id="k_eploss" for="edge" attr.name="packetloss"/>`

func loadFixture(t *testing.T, body string) *graphstore.Store {
	t.Helper()
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<graphml>` + keyHeader + `
  <graph edgedefault="directed">` + body + `</graph>
</graphml>`
	dir := t.TempDir()
	path := filepath.Join(dir, "topo.graphml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	store, err := graphstore.Load(path, nil)
	require.NoError(t, err)
	return store
}

func newRouter(t *testing.T, store *graphstore.Store) *Router {
	return New(store, pathcache.New(nil), nil)
}

// Scenario 1: two PoIs, edges A->B and B->A (the graph must be strongly
// connected to load), latency 10, no loss.
func TestScenario_DirectEdgeNoLoss(t *testing.T) {
	body := poiNode("poi-a", "10.0.0.1", "us-east", 0) +
		poiNode("poi-b", "10.0.0.2", "us-west", 0) +
		`<edge source="poi-a" target="poi-b"><data key="k_latency">10</data><data key="k_jitter">0</data><data key="k_eploss">0</data></edge>` +
		`<edge source="poi-b" target="poi-a"><data key="k_latency">10</data><data key="k_jitter">0</data><data key="k_eploss">0</data></edge>`
	store := loadFixture(t, body)
	router := newRouter(t, store)

	h1 := shadowaddr.Address{ID: 1}
	h2 := shadowaddr.Address{ID: 2}
	_, err := router.Attach(h1, fixedRNG(0), Hints{IP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = router.Attach(h2, fixedRNG(0), Hints{IP: "10.0.0.2"})
	require.NoError(t, err)

	require.Equal(t, 10.0, router.GetLatency(h1, h2))
	require.Equal(t, 1.0, router.GetReliability(h1, h2))
}

// Scenario 2: as above but vertex and edge loss reduce reliability.
func TestScenario_LossyReliability(t *testing.T) {
	body := `<node id="poi-a"><data key="k_type">host</data><data key="k_ip">10.0.0.1</data><data key="k_geo">us-east</data><data key="k_bwup">1000</data><data key="k_bwdown">1000</data><data key="k_vploss">0.1</data></node>` +
		`<node id="poi-b"><data key="k_type">host</data><data key="k_ip">10.0.0.2</data><data key="k_geo">us-west</data><data key="k_bwup">1000</data><data key="k_bwdown">1000</data><data key="k_vploss">0.2</data></node>` +
		`<edge source="poi-a" target="poi-b"><data key="k_latency">10</data><data key="k_jitter">0</data><data key="k_eploss">0.05</data></edge>` +
		`<edge source="poi-b" target="poi-a"><data key="k_latency">10</data><data key="k_jitter">0</data><data key="k_eploss">0.05</data></edge>`
	store := loadFixture(t, body)
	router := newRouter(t, store)

	h1 := shadowaddr.Address{ID: 1}
	h2 := shadowaddr.Address{ID: 2}
	_, err := router.Attach(h1, fixedRNG(0), Hints{IP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = router.Attach(h2, fixedRNG(0), Hints{IP: "10.0.0.2"})
	require.NoError(t, err)

	require.InDelta(t, 0.684, router.GetReliability(h1, h2), 1e-9)
}

// Scenario 3: triangle A-B-C, no direct A->C edge, shortest path goes via B.
func TestScenario_TriangleViaIntermediate(t *testing.T) {
	mk := func(id, ip string) string {
		return `<node id="` + id + `"><data key="k_type">host</data><data key="k_ip">` + ip + `</data><data key="k_geo">z</data><data key="k_bwup">1000</data><data key="k_bwdown">1000</data><data key="k_vploss">0</data></node>`
	}
	edge := func(a, b string) string {
		return `<edge source="` + a + `" target="` + b + `"><data key="k_latency">5</data><data key="k_jitter">0</data><data key="k_eploss">0</data></edge>`
	}
	body := mk("poi-a", "10.0.0.1") + mk("poi-b", "10.0.0.2") + mk("poi-c", "10.0.0.3") +
		edge("poi-a", "poi-b") + edge("poi-b", "poi-a") +
		edge("poi-b", "poi-c") + edge("poi-c", "poi-b")
	store := loadFixture(t, body)
	router := newRouter(t, store)

	h1 := shadowaddr.Address{ID: 1}
	h2 := shadowaddr.Address{ID: 2}
	_, err := router.Attach(h1, fixedRNG(0), Hints{IP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = router.Attach(h2, fixedRNG(0), Hints{IP: "10.0.0.3"})
	require.NoError(t, err)

	require.Equal(t, 10.0, router.GetLatency(h1, h2))
}

// Scenario 4: querying against an unattached address returns -1.
func TestScenario_UnattachedReturnsSentinel(t *testing.T) {
	body := poiNode("poi-a", "10.0.0.1", "us-east", 0)
	store := loadFixture(t, body)
	router := newRouter(t, store)

	h1 := shadowaddr.Address{ID: 1}
	_, err := router.Attach(h1, fixedRNG(0), Hints{})
	require.NoError(t, err)

	unattached := shadowaddr.Address{ID: 99}
	require.Equal(t, -1.0, router.GetLatency(h1, unattached))
	require.Equal(t, -1.0, router.GetReliability(h1, unattached))
	require.False(t, router.IsRoutable(h1, unattached))
}

// Invariant 1: self-routing latency is 1.0ms, reliability in (0,1].
func TestInvariant_SelfRoute(t *testing.T) {
	body := poiNode("poi-a", "10.0.0.1", "us-east", 0.1)
	store := loadFixture(t, body)
	router := newRouter(t, store)

	h1 := shadowaddr.Address{ID: 1}
	_, err := router.Attach(h1, fixedRNG(0), Hints{})
	require.NoError(t, err)

	require.Equal(t, 1.0, router.GetLatency(h1, h1))
	rel := router.GetReliability(h1, h1)
	require.Greater(t, rel, 0.0)
	require.LessOrEqual(t, rel, 1.0)
}

// Invariant 3 / cache coherence: repeated queries return the same *Path.
func TestInvariant_CacheCoherence(t *testing.T) {
	body := poiNode("poi-a", "10.0.0.1", "us-east", 0) +
		poiNode("poi-b", "10.0.0.2", "us-west", 0) +
		`<edge source="poi-a" target="poi-b"><data key="k_latency">10</data><data key="k_jitter">0</data><data key="k_eploss">0</data></edge>` +
		`<edge source="poi-b" target="poi-a"><data key="k_latency">10</data><data key="k_jitter">0</data><data key="k_eploss">0</data></edge>`
	store := loadFixture(t, body)
	cache := pathcache.New(nil)
	router := New(store, cache, nil)

	h1 := shadowaddr.Address{ID: 1}
	h2 := shadowaddr.Address{ID: 2}
	_, err := router.Attach(h1, fixedRNG(0), Hints{IP: "10.0.0.1"})
	require.NoError(t, err)
	_, err = router.Attach(h2, fixedRNG(0), Hints{IP: "10.0.0.2"})
	require.NoError(t, err)

	first, ok := router.route(h1, h2)
	require.True(t, ok)
	second, ok := router.route(h1, h2)
	require.True(t, ok)
	require.Same(t, first, second)
}

// Attach with hints matching nothing fails only when the whole PoI set is
// empty; otherwise it falls back to the unfiltered set.
func TestAttach_HintFallback(t *testing.T) {
	body := poiNode("poi-a", "10.0.0.1", "us-east", 0)
	store := loadFixture(t, body)
	router := newRouter(t, store)

	h1 := shadowaddr.Address{ID: 1}
	_, err := router.Attach(h1, fixedRNG(0), Hints{Cluster: "no-such-cluster"})
	require.NoError(t, err)
}

func TestAttach_NoCandidateFailsWhenGraphHasNoPoI(t *testing.T) {
	body := `<node id="plain"><data key="k_type">router</data></node>`
	store := loadFixture(t, body)
	router := newRouter(t, store)

	_, err := router.Attach(shadowaddr.Address{ID: 1}, fixedRNG(0), Hints{})
	require.ErrorIs(t, err, ErrNoCandidate)
}
