package source

import (
	"fmt"
	"strings"
)

// Quality is an ordered audio quality tier. Higher values mean better audio.
type Quality int

const (
	QualityStandard Quality = iota
	QualityHigh
	QualityLossless
	QualityHiRes
	QualityImmersive
)

var qualityNames = map[Quality]string{
	QualityStandard:  "standard",
	QualityHigh:      "high",
	QualityLossless:  "lossless",
	QualityHiRes:     "hires",
	QualityImmersive: "immersive",
}

func (q Quality) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

// Valid reports whether q is a known tier.
func (q Quality) Valid() bool {
	_, ok := qualityNames[q]
	return ok
}

// ParseQuality converts a config token to a Quality tier.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "128":
		return QualityStandard, nil
	case "high", "320":
		return QualityHigh, nil
	case "lossless", "flac", "999":
		return QualityLossless, nil
	case "hires", "hi-res":
		return QualityHiRes, nil
	case "immersive", "master", "atmos":
		return QualityImmersive, nil
	default:
		return QualityStandard, fmt.Errorf("unknown quality %q", s)
	}
}

// TokenMapping binds a quality tier to a provider-native request token.
type TokenMapping struct {
	Quality Quality
	Token   string
}

// TokenTable is a provider's supported tiers in descending quality order.
// Selection degrades to the nearest supported tier at or below the request,
// falling back to the provider's lowest tier, so lookups are total.
type TokenTable []TokenMapping

// TokenFor returns the provider token for the best supported tier not
// exceeding q, along with the tier actually selected.
func (t TokenTable) TokenFor(q Quality) (string, Quality) {
	for _, m := range t {
		if m.Quality <= q {
			return m.Token, m.Quality
		}
	}
	last := t[len(t)-1]
	return last.Token, last.Quality
}
