package ot

import (
	"fmt"
	"strings"

	"github.com/roach88/weave/internal/op"
	"github.com/roach88/weave/internal/value"
)

// TransformAll transforms two concurrent operation lists against each other.
// a' applies after b and b' applies after a. Split tails are spliced in
// place, so the lists may grow.
func TransformAll(a, b []op.Operation, priority Priority) (ap, bp []op.Operation) {
	if len(a) == 0 || len(b) == 0 {
		return a, b
	}
	if len(a) == 1 && len(b) == 1 {
		r := Transform(a[0], b[0], priority)
		return r.SelfOps(), r.OtherOps()
	}
	if len(a) > 1 {
		head, b1 := TransformAll(a[:1], b, priority)
		rest, b2 := TransformAll(a[1:], b1, priority)
		return append(head, rest...), b2
	}
	a1, head := TransformAll(a, b[:1], priority)
	a2, rest := TransformAll(a1, b[1:], priority)
	return a2, append(head, rest...)
}

// Rebase rewrites o to apply after every operation in history.
func Rebase(o op.Operation, history []op.Operation) []op.Operation {
	if len(history) == 0 {
		return []op.Operation{o}
	}
	out, _ := TransformAll([]op.Operation{o}, history, ByClock)
	return out
}

// ApplyText applies a positional operation to plain text.
// Retain and Format leave the characters untouched.
func ApplyText(s string, o op.Operation) (string, error) {
	runes := []rune(s)
	if o.Index < 0 || o.Index > len(runes) {
		return "", fmt.Errorf("index %d out of range [0,%d]", o.Index, len(runes))
	}

	switch o.Kind {
	case op.Insert:
		str, ok := o.Content.(value.String)
		if !ok {
			return "", fmt.Errorf("text insert with %T content", o.Content)
		}
		return string(runes[:o.Index]) + string(str) + string(runes[o.Index:]), nil
	case op.Embed:
		return string(runes[:o.Index]) + string(value.EmbedRune) + string(runes[o.Index:]), nil
	case op.Delete:
		end := o.Index + o.Length
		if end > len(runes) {
			return "", fmt.Errorf("delete [%d,%d) out of range [0,%d]", o.Index, end, len(runes))
		}
		var b strings.Builder
		b.WriteString(string(runes[:o.Index]))
		b.WriteString(string(runes[end:]))
		return b.String(), nil
	case op.Retain, op.Format:
		return s, nil
	}
	return "", op.Unsupported("apply", o.Kind)
}

// ApplyAll applies ops in order.
func ApplyAll(s string, ops []op.Operation) (string, error) {
	var err error
	for _, o := range ops {
		if s, err = ApplyText(s, o); err != nil {
			return "", err
		}
	}
	return s, nil
}
