package engine

import (
	"github.com/section6nz/3scale-sync/pkg/config"
)

// Identity of the builtin gateway policy that must lead every chain.
const (
	PolicyAPIcast        = "apicast"
	PolicyVersionBuiltin = "builtin"
)

// BuildPolicyChain normalizes a declared policy chain so the builtin
// apicast entry exists exactly once, at index 0:
//   - absent: an enabled entry with empty configuration is synthesized and
//     placed first;
//   - present but not first: moved to the front, relative order of all
//     other entries preserved;
//   - present and first: the chain passes through unchanged.
//
// Extra apicast/builtin copies are dropped, keeping the first. Pure and
// deterministic; building the output again returns it unchanged.
func BuildPolicyChain(declared []config.PolicyChainEntry) []config.PolicyChainEntry {
	var apicast *config.PolicyChainEntry
	rest := make([]config.PolicyChainEntry, 0, len(declared))
	for i := range declared {
		if isBuiltinAPIcast(declared[i]) {
			if apicast == nil {
				apicast = &declared[i]
			}
			continue
		}
		rest = append(rest, declared[i])
	}

	head := config.PolicyChainEntry{
		Name:          PolicyAPIcast,
		Version:       PolicyVersionBuiltin,
		Configuration: map[string]interface{}{},
		Enabled:       true,
	}
	if apicast != nil {
		head = *apicast
	}

	chain := make([]config.PolicyChainEntry, 0, len(rest)+1)
	chain = append(chain, head)
	chain = append(chain, rest...)
	return chain
}

func isBuiltinAPIcast(e config.PolicyChainEntry) bool {
	return e.Name == PolicyAPIcast && e.Version == PolicyVersionBuiltin
}
