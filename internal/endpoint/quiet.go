package endpoint

import "df2redis/internal/logger"

// bestEffort runs fn and logs, rather than propagates, any error it
// returns. It's the single helper behind every "quiet" teardown path
// (closeQuietly, sendQuietly-style call sites) instead of duplicating
// a swallow-and-log block at each one.
func bestEffort(log *logger.Logger, action string, fn func() error) {
	if err := fn(); err != nil && log != nil {
		log.Warnf("endpoint: %s failed (ignored): %v", action, err)
	}
}
