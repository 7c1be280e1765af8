package toolmanager

import (
	"sync"

	"github.com/drover-ai/drover/pkg/tool"
)

// Filter computes the subset of tools usable this turn from the full tool set
// plus forced choices (allow-list) and disabled names (deny-list). The result
// is cached; only ForceTool and ClearForced invalidate it, which keeps
// repeated reads within a turn O(1).
type Filter struct {
	tools    []tool.Tool
	choices  []string
	disabled []string

	mu     sync.Mutex
	cached []tool.Tool
	valid  bool
}

// NewFilter creates a filter over the turn's full tool set.
func NewFilter(tools []tool.Tool, choices []string, disabled []string) *Filter {
	return &Filter{
		tools:    tools,
		choices:  append([]string(nil), choices...),
		disabled: append([]string(nil), disabled...),
	}
}

// Available returns the usable subset, computing it lazily.
func (f *Filter) Available() []tool.Tool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.valid {
		f.cached = computeAvailable(f.tools, f.choices, f.disabled)
		f.valid = true
	}
	return f.cached
}

// ForceTool adds name to the forced choices and invalidates the cache. The
// name must belong to a known tool.
func (f *Filter) ForceTool(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	known := false
	for _, t := range f.tools {
		if t.Name() == name {
			known = true
			break
		}
	}
	if !known {
		return &tool.NotFoundError{Name: name}
	}

	for _, choice := range f.choices {
		if choice == name {
			return nil
		}
	}
	f.choices = append(f.choices, name)
	f.valid = false
	return nil
}

// ClearForced removes all forced choices and invalidates the cache.
func (f *Filter) ClearForced() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.choices = nil
	f.valid = false
}

// Forced reports whether name is currently in the forced choices.
func (f *Filter) Forced(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, choice := range f.choices {
		if choice == name {
			return true
		}
	}
	return false
}

// computeAvailable applies the selection policy:
//  1. drop tools that report themselves disabled;
//  2. drop tools in the deny-list;
//  3. with a non-empty allow-list, drop tools not named in it;
//  4. the first surviving tool that is exclusive and forced replaces the whole
//     result with itself, and the scan stops;
//  5. exclusive tools that are not forced are dropped; exclusivity is opt-in.
func computeAvailable(all []tool.Tool, choices []string, disabled []string) []tool.Tool {
	forced := make(map[string]bool, len(choices))
	for _, name := range choices {
		forced[name] = true
	}
	denied := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		denied[name] = true
	}

	result := []tool.Tool{}
	for _, t := range all {
		if !t.Enabled() {
			continue
		}
		if denied[t.Name()] {
			continue
		}
		if len(choices) > 0 && !forced[t.Name()] {
			continue
		}
		if t.Exclusive() {
			if len(choices) > 0 && forced[t.Name()] {
				// One exclusive tool wins the whole turn.
				return []tool.Tool{t}
			}
			continue
		}
		result = append(result, t)
	}
	return result
}
