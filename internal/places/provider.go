package places

import (
	"fmt"

	"github.com/dinder/session-server-go/internal/config"
)

// FromConfig builds the configured provider wrapped with tracing, rate
// limiting and query coalescing.
func FromConfig(cfg *config.Config) (Searcher, error) {
	var base Searcher
	switch cfg.PlacesProvider {
	case config.ProviderGoogle:
		base = NewGoogleClient(cfg.GooglePlacesAPIKey, "", nil)
	case config.ProviderYelp:
		base = NewYelpClient(cfg.YelpAPIKey, "", nil)
	case config.ProviderFixture:
		if cfg.PlacesFixturePath == "" {
			base = NewFixtureSearcher(nil)
			break
		}
		f, err := LoadFixture(cfg.PlacesFixturePath)
		if err != nil {
			return nil, err
		}
		base = f
	default:
		return nil, fmt.Errorf("unknown places provider %q", cfg.PlacesProvider)
	}

	var s Searcher = NewTraced(base, cfg.PlacesProvider)
	if cfg.PlacesRateLimitPerSec > 0 && cfg.PlacesProvider != config.ProviderFixture {
		s = NewRateLimited(s, cfg.PlacesRateLimitPerSec, max(1, cfg.PlacesMaxConcurrency))
	}
	return NewCoalescing(s), nil
}
