// Package closure discovers everything a function depends on and ships it
// to another process.
//
// Serialize walks the function's instruction stream to find the
// module-global bindings it reads, classifies each one (function, module,
// locally-defined class, or plain data value), and repeats breadth-first
// over discovered functions and classes until the whole dependency graph
// is covered. The graph becomes an ordered node list, encoded as a
// versioned CBOR blob. Mutually recursive functions and aliased bindings
// terminate because visits are tracked by (name, identity).
//
// Deserialize rebuilds the graph into a caller-supplied namespace: function
// nodes become callables whose global reads resolve late against that
// namespace, module nodes are re-imported by name, and class nodes are
// reconstructed member by member. The object rebuilt from the first node is
// the published function.
//
// The blob is an internal wire format: the only valid consumer of
// Serialize's output is Deserialize.
package closure
