package bus

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/meshworks/relay/pkg/types"
)

// matchFilter evaluates the conjunctive filter predicates against an
// event. dataJSON is the marshalled Event.Data, required only when the
// filter carries DataPaths. An empty filter matches everything.
func matchFilter(f *types.EventFilter, e *types.Event, dataJSON []byte) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 && !matchType(f.Types, e.Type) {
		return false
	}
	if len(f.Sources) > 0 && !containsString(f.Sources, e.Source) {
		return false
	}
	if len(f.Priorities) > 0 && !containsPriority(f.Priorities, e.Priority) {
		return false
	}
	for path, cond := range f.DataPaths {
		got := gjson.GetBytes(dataJSON, path)
		if !got.Exists() {
			return false
		}
		if !types.Compare(cond.Operator, cond.Value, got.Value()) {
			return false
		}
	}
	return true
}

// matchType matches on equality or substring so a single filter element
// can target a family like "smartDetect".
func matchType(want []string, got string) bool {
	for _, w := range want {
		if got == w || strings.Contains(got, w) {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsPriority(set []types.Priority, v types.Priority) bool {
	for _, p := range set {
		if p == v {
			return true
		}
	}
	return false
}
