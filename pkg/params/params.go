package params

import (
	"fmt"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Kind is the declared type of a parameter value.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

// Definition declares one parameter a module understands: its type, default
// and, for integers, an inclusive range.
type Definition struct {
	Name        string
	Kind        Kind
	Default     any
	Min, Max    int
	Description string
}

// definitions declares the parameter schema of each built-in module.
var definitions = map[types.ModuleID][]Definition{
	types.ModuleAcademic: {
		{Name: "max_papers", Kind: KindInt, Default: 5, Min: 1, Max: 20, Description: "papers to retrieve per source"},
	},
	types.ModuleWeb: {
		{Name: "max_web_results", Kind: KindInt, Default: 5, Min: 1, Max: 25, Description: "web results to analyze"},
	},
	types.ModuleYouTube: {
		{Name: "max_videos", Kind: KindInt, Default: 3, Min: 1, Max: 10, Description: "videos to transcribe and mine"},
	},
	types.ModuleSocial: {
		{Name: "max_posts", Kind: KindInt, Default: 50, Min: 10, Max: 500, Description: "posts to sample for listening"},
	},
	types.ModuleFocusGroup: {
		{Name: "audience", Kind: KindString, Default: "general consumers", Description: "audience profile to simulate"},
	},
	types.ModuleDocAudit: {
		{Name: "brand", Kind: KindString, Default: "", Description: "brand under audit"},
	},
}

// Definitions returns the parameter schema for a module, nil for unknown IDs.
func Definitions(id types.ModuleID) []Definition {
	return definitions[id]
}

// ApplyDefaults returns a parameter map where every parameter of a selected
// module has a value: supplied values win, defaults fill the rest. The input
// map is not mutated.
func ApplyDefaults(selected []types.ModuleID, supplied map[string]any) map[string]any {
	merged := make(map[string]any, len(supplied))
	for k, v := range supplied {
		merged[k] = v
	}
	for _, id := range selected {
		for _, def := range definitions[id] {
			if _, ok := merged[def.Name]; !ok {
				merged[def.Name] = def.Default
			}
		}
	}
	return merged
}

// Validate checks supplied parameters against the schemas of the selected
// modules. Unknown parameter names are tolerated (modules treat the map as
// opaque); declared names must match their declared type and range.
func Validate(selected []types.ModuleID, supplied map[string]any) error {
	for _, id := range selected {
		for _, def := range definitions[id] {
			value, ok := supplied[def.Name]
			if !ok {
				continue
			}
			if err := checkValue(def, value); err != nil {
				return flowerr.Wrap(err, flowerr.CodeInvalidInput,
					fmt.Sprintf("parameter %q for module %s", def.Name, id))
			}
		}
	}
	return nil
}

func checkValue(def Definition, value any) error {
	switch def.Kind {
	case KindInt:
		n, ok := asInt(value)
		if !ok {
			return fmt.Errorf("expected integer, got %T", value)
		}
		if n < def.Min || n > def.Max {
			return fmt.Errorf("value %d outside range [%d, %d]", n, def.Min, def.Max)
		}
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	}
	return nil
}

// asInt accepts the numeric shapes that config files and JSON decoding
// produce.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}
