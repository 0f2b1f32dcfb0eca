package submission

import (
	"fmt"
	"sort"

	"tipline/internal/store"
)

// validateFields checks a field payload against the context's descriptors.
// In strict mode the payload must be non-empty and carry every required key.
// Unknown keys are always rejected.
func validateFields(c *store.Context, fields map[string]string, strict bool) (map[string]string, error) {
	required := make(map[string]struct{})
	optional := make(map[string]struct{})
	for _, f := range c.Fields {
		if f.Required {
			required[f.Key] = struct{}{}
		} else {
			optional[f.Key] = struct{}{}
		}
	}

	if strict && len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields submitted", ErrMissingRequiredField)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, isRequired := required[k]
		_, isOptional := optional[k]
		if !isRequired && !isOptional {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedField, k)
		}
	}

	if strict {
		missing := make([]string, 0)
		for k := range required {
			if _, ok := fields[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fmt.Errorf("%w: %v", ErrMissingRequiredField, missing)
		}
	}

	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, nil
}
