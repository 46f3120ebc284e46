package resolver

import (
	"slices"

	"media-resolver-go/pkg/providers"
	"media-resolver-go/pkg/types"
)

// ReorderSources removes duplicates and empty ids, keeping first
// occurrences, then moves the affinity source to the front when the order
// contains it. The relative order of the rest is kept.
func ReorderSources(order []string, aff *types.ProviderAffinity) []string {
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(order))
	for _, id := range order {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}

	if aff == nil || aff.SourceID == "" {
		return out
	}
	if i := slices.Index(out, aff.SourceID); i > 0 {
		id := out[i]
		copy(out[1:i+1], out[:i])
		out[0] = id
	}
	return out
}

// ReorderEmbeds sorts embeds English-first (stable) and, when sourceID owns
// the affinity record, moves the first embed matching its embed id to the
// front. The input slice is not modified.
func ReorderEmbeds(embeds []types.EmbedRef, aff *types.ProviderAffinity, sourceID string) []types.EmbedRef {
	out := slices.Clone(embeds)
	slices.SortStableFunc(out, func(a, b types.EmbedRef) int {
		return providers.LanguageRank(a.Label) - providers.LanguageRank(b.Label)
	})

	if aff == nil || aff.EmbedID == "" || aff.SourceID != sourceID {
		return out
	}
	i := slices.IndexFunc(out, func(e types.EmbedRef) bool { return e.EmbedID == aff.EmbedID })
	if i > 0 {
		ref := out[i]
		copy(out[1:i+1], out[:i])
		out[0] = ref
	}
	return out
}
