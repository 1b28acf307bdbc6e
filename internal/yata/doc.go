// Package yata implements the origin-addressed sequence CRDT behind the Text
// and Array containers.
//
// Every content unit is one item in an arena, linked left/right between a
// head and a tail sentinel. An item remembers the IDs that were immediately
// left and right of it when it was inserted (its origins). Integration of a
// remote insert starts at the left origin and scans right over concurrent
// siblings, so the final order is a pure function of the integrated items
// and the new item's (origins, id), independent of delivery order.
//
// Tombstoned items stay linked so later inserts can still resolve their
// origins. Compact physically removes tombstones that no other item's
// origin references and the caller deems stable, leaving a local redirect
// so an origin that names a removed item still lands next to where it was.
// Redirects are not replicated; callers only remove tombstones no peer can
// still name.
//
// The engine is not synchronized. Callers hold the owning document's lock.
package yata
