package runner

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencurate/ferry/pkg/provider"
)

// validatePatterns rejects malformed globs at body construction time
// so a bad pattern never claims a job slot.
func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// filterResources keeps resources whose id matches at least one
// pattern. No patterns means keep everything.
func filterResources(resources []provider.Resource, patterns []string) []provider.Resource {
	if len(patterns) == 0 {
		return resources
	}
	out := resources[:0]
	for _, res := range resources {
		for _, p := range patterns {
			if doublestar.MatchUnvalidated(p, res.ID) {
				out = append(out, res)
				break
			}
		}
	}
	return out
}
