// Package codec encodes operation streams and state vectors to the binary
// payloads exchanged between replicas and stored by collaborators.
//
// Update layout:
//
//	version   byte (1)
//	count     uvarint
//	records   count × record
//
//	record:
//	  kind        byte
//	  replica     string
//	  clock       uvarint
//	  container   string
//	  flags       byte   (see flag* constants)
//	  [parent]    string
//	  [key]       tagged value
//	  index       zig-zag varint
//	  [content]   tagged value
//	  [attrs]     uvarint count, then (string, tagged value) sorted by key
//	  [length]    uvarint
//	  [left]      string replica, uvarint clock
//	  [right]     string replica, uvarint clock
//	  [targets]   uvarint count, then (string replica, uvarint clock, uvarint len)
//	  timestamp   8 bytes big-endian unix milliseconds
//	  origin      string
//
// Strings are uvarint length + UTF-8 bytes. Variable-length integers are
// capped at 32 bits; a longer or truncated encoding is malformed. An empty
// payload, or one or two zero bytes, is the empty update.
//
// All functions are pure and safe for concurrent use.
package codec
