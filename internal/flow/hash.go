package flow

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Revision returns a content hash of the whole script. The store records it
// on save so callers can cheaply tell whether a refine actually changed
// anything.
func Revision(s *Script) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IdentityHash fingerprints what a node *is* (actor, type, tool, label),
// ignoring its id and layout. Refine uses it to carry original ids over to
// unaffected nodes in a regenerated script.
func IdentityHash(n *Node) string {
	if n == nil {
		return ""
	}
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%s", n.Actor, n.Type, n.Tool, n.Label)))
	return hex.EncodeToString(sum[:16])
}
