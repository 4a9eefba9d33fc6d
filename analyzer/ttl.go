package analyzer

import (
	"regexp"
	"time"
)

// TTL classification rules, checked in order. Configuration tables change
// rarely and get the longest TTL; user-scoped lookups and volatile tables
// get short TTLs; everything else is treated as static data.
var (
	configurationPattern = regexp.MustCompile(`\b(config|settings|countries|currencies)\b`)
	userDataPattern      = regexp.MustCompile(`where\s+.*user_id`)
	volatilePattern      = regexp.MustCompile(`\b(orders|transactions|logs)\b`)
)

// SuggestTTL classifies a canonical query and returns the TTL configured
// for its data class.
func (a *Analyzer) SuggestTTL(canonical string) time.Duration {
	switch {
	case configurationPattern.MatchString(canonical):
		return a.cfg.DefaultTTLs.Configuration.Std()
	case userDataPattern.MatchString(canonical):
		return a.cfg.DefaultTTLs.UserData.Std()
	case volatilePattern.MatchString(canonical):
		return a.cfg.DefaultTTLs.VolatileData.Std()
	default:
		return a.cfg.DefaultTTLs.StaticData.Std()
	}
}
