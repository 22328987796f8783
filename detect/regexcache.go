package detect

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegexTimeout bounds backtracking so a pathological rule pattern
// cannot stall event evaluation (ReDoS protection).
const DefaultRegexTimeout = 500 * time.Millisecond

const regexCacheSize = 512

// regexCache holds compiled rule patterns. Rule sets are small and stable,
// so an LRU this size effectively means compile-once.
var regexCache = newRegexCache()

func newRegexCache() *lru.Cache[string, *regexp2.Regexp] {
	cache, err := lru.New[string, *regexp2.Regexp](regexCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create regex cache: %v", err))
	}
	return cache
}

// matchPattern matches pattern against input case-insensitively. Compilation
// failures and match timeouts are reported as errors; callers treat both as
// non-matching so a broken pattern fails closed.
func matchPattern(pattern, input string) (bool, error) {
	re, ok := regexCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp2.Compile(pattern, regexp2.IgnoreCase)
		if err != nil {
			return false, fmt.Errorf("failed to compile pattern %q: %w", pattern, err)
		}
		re.MatchTimeout = DefaultRegexTimeout
		regexCache.Add(pattern, re)
	}

	matched, err := re.MatchString(input)
	if err != nil {
		return false, fmt.Errorf("pattern %q evaluation: %w", pattern, err)
	}
	return matched, nil
}
