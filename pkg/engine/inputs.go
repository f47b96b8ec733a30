package engine

import (
	"fmt"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// lookupOutputPath resolves a dot-separated output path ("result.score")
// against a node's recorded output map. Bare output names short-circuit the
// path machinery.
func lookupOutputPath(output map[string]any, path string) (any, error) {
	if output == nil {
		return nil, fmt.Errorf("source node produced no output")
	}

	if !strings.Contains(path, ".") && !strings.Contains(path, "[") {
		value, ok := output[path]
		if !ok {
			return nil, fmt.Errorf("output %q not present", path)
		}

		return value, nil
	}

	value, err := jsonpath.JsonPathLookup(map[string]any(output), "$."+path)
	if err != nil {
		return nil, fmt.Errorf("path %q not resolvable: %w", path, err)
	}

	return value, nil
}
