package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestHashDeterminism verifies the replay-key property the ledgers rely on:
// hashing the same content twice always yields the same digest.
func TestHashDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical hash is deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			h1, err1 := Hash(obj)
			h2, err2 := Hash(obj)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("digest changes when a value changes", prop.ForAll(
		func(key, value string) bool {
			if key == "" {
				return true
			}
			h1, err1 := Hash(map[string]any{key: value})
			h2, err2 := Hash(map[string]any{key: value + "x"})
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 != h2
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
