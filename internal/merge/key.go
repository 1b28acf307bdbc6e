package merge

import (
	"fmt"
	"strings"
)

// Key identifies one logical document.
type Key struct {
	Workspace string `json:"workspace"`
	Document  string `json:"document"`
}

// String renders the key as "workspace/document".
func (k Key) String() string {
	return k.Workspace + "/" + k.Document
}

// ParseKey parses "workspace/document".
func ParseKey(s string) (Key, error) {
	ws, d, ok := strings.Cut(s, "/")
	if !ok || ws == "" || d == "" {
		return Key{}, fmt.Errorf("invalid document key %q: want workspace/document", s)
	}
	return Key{Workspace: ws, Document: d}, nil
}
