package graphstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const triangleGraphML = `<?xml version="1.0" encoding="UTF-8"?>
<graphml>
  <key id="k_id" for="node" attr.name="id"/>
  <key id="k_type" for="node" attr.name="type"/>
  <key id="k_ip" for="node" attr.name="ip"/>
  <key id="k_geo" for="node" attr.name="geocode"/>
  <key id="k_bwup" for="node" attr.name="bandwidthup"/>
  <key id="k_bwdown" for="node" attr.name="bandwidthdown"/>
  <key id="k_vploss" for="node" attr.name="packetloss"/>
  <key id="k_latency" for="edge" attr.name="latency"/>
  <key id="k_jitter" for="edge" attr.name="jitter"/>
  <key id="k_eploss" for="edge" attr.name="packetloss"/>
  <graph edgedefault="directed">
    <node id="poi-a">
      <data key="k_type">host</data>
      <data key="k_ip">10.0.0.1</data>
      <data key="k_geo">us-east</data>
      <data key="k_bwup">1000</data>
      <data key="k_bwdown">1000</data>
      <data key="k_vploss">0</data>
    </node>
    <node id="poi-b">
      <data key="k_type">host</data>
      <data key="k_ip">10.0.0.2</data>
      <data key="k_geo">us-west</data>
      <data key="k_bwup">1000</data>
      <data key="k_bwdown">1000</data>
      <data key="k_vploss">0</data>
    </node>
    <node id="poi-c">
      <data key="k_type">host</data>
      <data key="k_ip">10.0.0.3</data>
      <data key="k_geo">eu-west</data>
      <data key="k_bwup">1000</data>
      <data key="k_bwdown">1000</data>
      <data key="k_vploss">0</data>
    </node>
    <edge source="poi-a" target="poi-b">
      <data key="k_latency">5</data>
      <data key="k_jitter">0</data>
      <data key="k_eploss">0</data>
    </edge>
    <edge source="poi-b" target="poi-a">
      <data key="k_latency">5</data>
      <data key="k_jitter">0</data>
      <data key="k_eploss">0</data>
    </edge>
    <edge source="poi-b" target="poi-c">
      <data key="k_latency">5</data>
      <data key="k_jitter">0</data>
      <data key="k_eploss">0</data>
    </edge>
    <edge source="poi-c" target="poi-b">
      <data key="k_latency">5</data>
      <data key="k_jitter">0</data>
      <data key="k_eploss">0</data>
    </edge>
    <edge source="poi-a" target="poi-c">
      <data key="k_latency">5</data>
      <data key="k_jitter">0</data>
      <data key="k_eploss">0</data>
    </edge>
    <edge source="poi-c" target="poi-a">
      <data key="k_latency">5</data>
      <data key="k_jitter">0</data>
      <data key="k_eploss">0</data>
    </edge>
  </graph>
</graphml>`

const disconnectedGraphML = `<?xml version="1.0" encoding="UTF-8"?>
<graphml>
  <key id="k_type" for="node" attr.name="type"/>
  <key id="k_ip" for="node" attr.name="ip"/>
  <key id="k_geo" for="node" attr.name="geocode"/>
  <key id="k_bwup" for="node" attr.name="bandwidthup"/>
  <key id="k_bwdown" for="node" attr.name="bandwidthdown"/>
  <key id="k_vploss" for="node" attr.name="packetloss"/>
  <key id="k_latency" for="edge" attr.name="latency"/>
  <key id="k_jitter" for="edge" attr.name="jitter"/>
  <key id="k_eploss" for="edge" attr.name="packetloss"/>
  <graph edgedefault="directed">
    <node id="poi-a">
      <data key="k_type">host</data>
      <data key="k_ip">10.0.0.1</data>
      <data key="k_geo">us-east</data>
      <data key="k_bwup">1000</data>
      <data key="k_bwdown">1000</data>
      <data key="k_vploss">0</data>
    </node>
    <node id="poi-b">
      <data key="k_type">host</data>
      <data key="k_ip">10.0.0.2</data>
      <data key="k_geo">us-west</data>
      <data key="k_bwup">1000</data>
      <data key="k_bwdown">1000</data>
      <data key="k_vploss">0</data>
    </node>
  </graph>
</graphml>`

func writeTempGraphML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "topo.graphml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Triangle(t *testing.T) {
	path := writeTempGraphML(t, triangleGraphML)

	store, err := Load(path, nil)
	require.NoError(t, err)
	require.NotNil(t, store)

	err = store.WithGraph(func(h *Handle) error {
		require.True(t, h.IsPoI("poi-a"))
		require.ElementsMatch(t, []string{"poi-a", "poi-b", "poi-c"}, h.PoIIDs())

		latency, jitter, ploss, ok := h.EdgeAttrs("poi-a", "poi-b")
		require.True(t, ok)
		require.Equal(t, 5.0, latency)
		require.Equal(t, 0.0, jitter)
		require.Equal(t, 0.0, ploss)

		path, ok, err := h.ShortestPath("poi-a", "poi-b")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []string{"poi-a", "poi-b"}, path)
		return nil
	})
	require.NoError(t, err)
}

func TestLoad_DisconnectedFails(t *testing.T) {
	path := writeTempGraphML(t, disconnectedGraphML)

	_, err := Load(path, nil)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, NotConnected, loadErr.Kind)
}

func TestLoad_MissingFileIsIOError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.graphml"), nil)
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	require.Equal(t, IO, loadErr.Kind)
}

func TestShortestPath_SameVertex(t *testing.T) {
	path := writeTempGraphML(t, triangleGraphML)
	store, err := Load(path, nil)
	require.NoError(t, err)

	err = store.WithGraph(func(h *Handle) error {
		seq, ok, err := h.ShortestPath("poi-a", "poi-a")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []string{"poi-a"}, seq)
		return nil
	})
	require.NoError(t, err)
}

func TestShortestPathTotal_Accumulates(t *testing.T) {
	path := writeTempGraphML(t, triangleGraphML)
	store, err := Load(path, nil)
	require.NoError(t, err)

	require.Zero(t, store.ShortestPathTotal())
	store.AddShortestPathTime(5)
	store.AddShortestPathTime(7)
	require.EqualValues(t, 12, store.ShortestPathTotal())
}
