// Package vm implements the portable function runtime used by published
// services: a compact stack-based bytecode format, an interpreter, and the
// object model (functions, classes, modules, namespaces) that the closure
// package ships between processes.
//
// The bytecode format is designed for:
//   - Compact representation (typically 1-3 bytes per instruction)
//   - Fast decoding (fixed-width opcodes, simple operand formats)
//   - Easy serialization (chunks travel inside closure blobs)
//
// Global name resolution is late-bound: OpLoadGlobal records the name of
// the binding it reads, and the lookup happens against the function's
// namespace at execution time. Two mutually recursive functions can
// therefore be constructed one after the other into a shared namespace;
// neither needs the other to exist until it is actually called.
package vm
