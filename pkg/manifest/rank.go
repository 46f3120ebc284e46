package manifest

import (
	"cmp"
	"slices"
	"strings"

	"media-resolver-go/pkg/types"
)

const (
	// DesiredHeight is the playback sweet spot on constrained targets.
	DesiredHeight = 720
	// MaxHeight is the largest height accepted without penalty.
	MaxHeight = 1080

	missingResolutionPenalty = 1_000_000
	aboveMaxPenalty          = 10_000
)

// CodecRank orders codec families by decoder compatibility:
// AVC 0, unknown 1, HEVC and Dolby Vision 2.
func CodecRank(codecs string) int {
	lower := strings.ToLower(codecs)
	switch {
	case strings.Contains(lower, "avc1"), strings.Contains(lower, "avc3"):
		return 0
	case strings.Contains(lower, "hvc1"), strings.Contains(lower, "hev1"),
		strings.Contains(lower, "dvh1"), strings.Contains(lower, "dvhe"):
		return 2
	default:
		return 1
	}
}

// ResolutionPenalty scores distance from DesiredHeight. Heights above
// MaxHeight cost 10000+height and a missing resolution costs 1_000_000.
func ResolutionPenalty(v types.QualityVariant) int {
	h := v.Height()
	switch {
	case h <= 0:
		return missingResolutionPenalty
	case h > MaxHeight:
		return aboveMaxPenalty + h
	case h >= DesiredHeight:
		return h - DesiredHeight
	default:
		return DesiredHeight - h
	}
}

// compareCompatibility is the ascending ranking key: codec rank, resolution
// penalty, bandwidth.
func compareCompatibility(a, b types.QualityVariant) int {
	if c := cmp.Compare(CodecRank(a.Codecs), CodecRank(b.Codecs)); c != 0 {
		return c
	}
	if c := cmp.Compare(ResolutionPenalty(a), ResolutionPenalty(b)); c != 0 {
		return c
	}
	return cmp.Compare(a.Bandwidth, b.Bandwidth)
}

// RankByCompatibility returns a copy of variants, best first for constrained
// playback. It drives initial auto-selection and step-down after errors.
func RankByCompatibility(variants []types.QualityVariant) []types.QualityVariant {
	ranked := slices.Clone(variants)
	slices.SortStableFunc(ranked, compareCompatibility)
	return ranked
}

// BestForPrefetch picks the highest quality variant among the most
// compatible codec family: codec rank, then height, then bandwidth.
func BestForPrefetch(variants []types.QualityVariant) (types.QualityVariant, bool) {
	if len(variants) == 0 {
		return types.QualityVariant{}, false
	}
	best := slices.MinFunc(variants, func(a, b types.QualityVariant) int {
		if c := cmp.Compare(CodecRank(a.Codecs), CodecRank(b.Codecs)); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Height(), a.Height()); c != 0 {
			return c
		}
		return cmp.Compare(b.Bandwidth, a.Bandwidth)
	})
	return best, true
}
