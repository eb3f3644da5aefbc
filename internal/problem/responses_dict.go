package problem

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// MakeDictOfResponses normalizes the multi-valued submit form into the
// answers map the instance layer grades. Keys arrive as "input_<id>" with
// two suffix conventions: "[]" marks a multi-valued input (the whole value
// list is kept), "{}" marks a JSON-encoded map. The "[]" suffix is checked
// first. The "input_" prefix is stripped up to the first underscore;
// duplicate post-strip keys and keys without an underscore are rejected.
func MakeDictOfResponses(data url.Values) (map[string]any, error) {
	answers := map[string]any{}
	for key, values := range data {
		name := key
		isList := strings.HasSuffix(name, "[]")
		if isList {
			name = strings.TrimSuffix(name, "[]")
		}
		isMap := !isList && strings.HasSuffix(name, "{}")
		if isMap {
			name = strings.TrimSuffix(name, "{}")
		}

		i := strings.Index(name, "_")
		if i < 0 {
			return nil, fmt.Errorf("invalid input key %q: missing underscore", key)
		}
		name = name[i+1:]
		if _, dup := answers[name]; dup {
			return nil, fmt.Errorf("duplicate input key %q", name)
		}

		switch {
		case isList:
			answers[name] = append([]string(nil), values...)
		case isMap:
			if len(values) == 0 {
				return nil, fmt.Errorf("input key %q has no value", key)
			}
			var m map[string]any
			if err := json.Unmarshal([]byte(values[0]), &m); err != nil {
				return nil, fmt.Errorf("input key %q is not valid JSON: %w", key, err)
			}
			answers[name] = m
		default:
			if len(values) == 0 {
				answers[name] = ""
			} else {
				answers[name] = values[0]
			}
		}
	}
	return answers, nil
}
