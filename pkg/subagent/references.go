package subagent

import (
	"fmt"
	"regexp"
	"strconv"
)

// Reference is a citation emitted by a sub-agent, keyed so citations from
// different runs never collide when merged into the parent conversation.
type Reference struct {
	Assistant string `json:"assistant"`
	Sequence  uint64 `json:"sequence"`
	Number    int    `json:"number"`
}

// Key renders the compound reference key used inline in rewritten text.
func (r Reference) Key() string {
	return fmt.Sprintf("%s:%d:%d", r.Assistant, r.Sequence, r.Number)
}

var referenceMarker = regexp.MustCompile(`\[(\d+)\]`)

// RenumberReferences rewrites inline [n] citation markers in a sub-agent
// answer to compound (assistant, sequence, n) keys and returns the distinct
// references in first-occurrence order.
func RenumberReferences(text, assistantID string, sequence uint64) (string, []Reference) {
	seen := make(map[int]bool)
	refs := []Reference{}

	rewritten := referenceMarker.ReplaceAllStringFunc(text, func(marker string) string {
		number, err := strconv.Atoi(referenceMarker.FindStringSubmatch(marker)[1])
		if err != nil {
			return marker
		}
		ref := Reference{Assistant: assistantID, Sequence: sequence, Number: number}
		if !seen[number] {
			seen[number] = true
			refs = append(refs, ref)
		}
		return "[" + ref.Key() + "]"
	})

	return rewritten, refs
}
