package graphstore

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
)

// The GraphML decode below is schema-specific: it resolves <key> elements to
// attribute names and pulls out exactly the vertex/edge attributes the
// topology schema requires. General-purpose GraphML/XML handling beyond
// this schema is the out-of-scope collaborator; encoding/xml supplies it.

type xmlGraphML struct {
	XMLName xml.Name    `xml:"graphml"`
	Keys    []xmlKey    `xml:"key"`
	Graph   xmlGraphTag `xml:"graph"`
}

type xmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
}

type xmlGraphTag struct {
	EdgeDefault string     `xml:"edgedefault,attr"`
	Nodes       []xmlNode  `xml:"node"`
	Edges       []xmlEdge  `xml:"edge"`
}

type xmlNode struct {
	ID   string    `xml:"id,attr"`
	Data []xmlData `xml:"data"`
}

type xmlEdge struct {
	Source string    `xml:"source,attr"`
	Target string    `xml:"target,attr"`
	Data   []xmlData `xml:"data"`
}

type xmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// parsedVertex is a decoded GraphML node with attribute names already
// resolved from <key> indirection.
type parsedVertex struct {
	ID    string
	Attrs map[string]string
}

// parsedEdge is a decoded GraphML edge, source/target by vertex ID.
type parsedEdge struct {
	Source, Target string
	Attrs          map[string]string
}

type parsedGraph struct {
	Vertices []parsedVertex
	Edges    []parsedEdge
}

// decodeGraphML parses the GraphML schema required by the topology loader:
// vertex attributes id/type (+ PoI-only ip/geocode/bandwidthup/bandwidthdown/
// packetloss) and edge attributes latency/jitter/packetloss.
func decodeGraphML(r io.Reader) (*parsedGraph, error) {
	var doc xmlGraphML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode graphml: %w", err)
	}

	keyNames := make(map[string]string, len(doc.Keys)) // key id -> attr.name
	for _, k := range doc.Keys {
		keyNames[k.ID] = k.AttrName
	}

	resolve := func(data []xmlData) map[string]string {
		attrs := make(map[string]string, len(data))
		for _, d := range data {
			name, ok := keyNames[d.Key]
			if !ok {
				name = d.Key
			}
			attrs[name] = d.Value
		}
		return attrs
	}

	pg := &parsedGraph{
		Vertices: make([]parsedVertex, 0, len(doc.Graph.Nodes)),
		Edges:    make([]parsedEdge, 0, len(doc.Graph.Edges)),
	}
	for _, n := range doc.Graph.Nodes {
		pg.Vertices = append(pg.Vertices, parsedVertex{ID: n.ID, Attrs: resolve(n.Data)})
	}
	for _, e := range doc.Graph.Edges {
		pg.Edges = append(pg.Edges, parsedEdge{Source: e.Source, Target: e.Target, Attrs: resolve(e.Data)})
	}
	return pg, nil
}

func requireAttr(attrs map[string]string, name string) (string, error) {
	v, ok := attrs[name]
	if !ok {
		return "", fmt.Errorf("missing required attribute %q", name)
	}
	return v, nil
}

func parseFloatAttr(attrs map[string]string, name string) (float64, error) {
	raw, err := requireAttr(attrs, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", name, err)
	}
	return f, nil
}
