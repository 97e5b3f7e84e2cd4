package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"ontogen/internal/types"
)

// JQPredicate builds a predicate from a jq expression. The value passes when
// the first result is truthy (anything but false and null).
func JQPredicate(expr string) (Predicate, error) {
	parsed, err := gojq.Parse(expr)
	if err != nil {
		return nil, types.Wrap(types.KindConfig, err, fmt.Sprintf("invalid jq expression %q", expr))
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, types.Wrap(types.KindConfig, err, fmt.Sprintf("compile jq expression %q", expr))
	}

	return func(ctx context.Context, value any) error {
		input, err := jsonValue(value)
		if err != nil {
			return err
		}
		iter := code.RunWithContext(ctx, input)
		v, ok := iter.Next()
		if !ok {
			return fmt.Errorf("jq %q produced no result", expr)
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("jq %q: %w", expr, err)
		}
		if v == nil || v == false {
			return fmt.Errorf("jq %q rejected the value (got %v)", expr, v)
		}
		return nil
	}, nil
}

// jsonValue converts v to the plain JSON shapes gojq understands.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
