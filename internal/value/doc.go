// Package value provides the sealed content union carried by operations.
//
// Every payload that can be stored in a container is one of the variants
// declared here. The set is closed: only types in this package implement
// Value, so codecs and containers can switch over it exhaustively.
//
// Content length is measured in units:
//   - String: one unit per rune
//   - Array: one unit per element (an Array payload inserts several elements)
//   - everything else: one unit
//
// This package imports nothing internal.
package value
