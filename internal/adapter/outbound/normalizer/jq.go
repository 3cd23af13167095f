package normalizer

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// selectItems evaluates an operator-supplied jq expression against payload
// and returns the candidate item array it yields.
func selectItems(expr string, payload any) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse items path %q: %w", expr, err)
	}
	iter := query.Run(payload)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("evaluate items path %q: %w", expr, err)
		}
		switch x := v.(type) {
		case []any:
			out = append(out, x...)
		case nil:
		default:
			out = append(out, x)
		}
		if len(out) > maxVisitedNodes {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("items path %q matched nothing", expr)
	}
	return out, nil
}
