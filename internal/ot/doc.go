// Package ot holds the pairwise operational-transform matrix.
//
// Transform re-expresses two concurrent positional operations against each
// other's effect so that applying (a, b') and (b, a') yields the same state.
// Sequence containers converge through origin-addressed integration
// (package yata); this matrix serves index rebasing of local edits and the
// attribute algebra used when applying formats. All functions are pure.
package ot
