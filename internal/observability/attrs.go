package observability

import "go.opentelemetry.io/otel/attribute"

// These attribute constructors retarget the teacher's MoQT track/broadcast
// attributes (moq.track, moq.group, moq.broadcast, moq.subscribers) to the
// scheduling core's own span attributes: simulation window, host, worker,
// and the two vertices a route query spans.

// Window tags a span with the simulation window index it ran in.
func Window(n int64) attribute.KeyValue { return attribute.Int64("sim.window", n) }

// Host tags a span with a ShadowID.
func Host(id uint32) attribute.KeyValue { return attribute.Int64("sim.host", int64(id)) }

// Worker tags a span with a worker pool slot ID.
func Worker(id int) attribute.KeyValue { return attribute.Int("sim.worker", id) }

// SrcVertex tags a span with the source vertex of a route query.
func SrcVertex(id string) attribute.KeyValue { return attribute.String("sim.src_vertex", id) }

// DstVertex tags a span with the destination vertex of a route query.
func DstVertex(id string) attribute.KeyValue { return attribute.String("sim.dst_vertex", id) }

// CacheOutcome tags a span with "hit" or "miss" for a path cache lookup.
func CacheOutcome(outcome string) attribute.KeyValue {
	return attribute.String("sim.cache_outcome", outcome)
}

// Str and Num are generic escape hatches for attributes the named helpers
// above don't cover.
func Str(key, value string) attribute.KeyValue { return attribute.String(key, value) }
func Num(key string, value int64) attribute.KeyValue { return attribute.Int64(key, value) }
