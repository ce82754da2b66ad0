package cache

import (
	"fmt"
	"time"
)

func TerminalJobKey(jobID string) string {
	return fmt.Sprintf("forge3d:job:terminal:%s", jobID)
}

// RateLimitKey buckets a counter per scope, subject and fixed window.
func RateLimitKey(scope, subject string, window time.Time) string {
	return fmt.Sprintf("forge3d:ratelimit:%s:%s:%d", scope, subject, window.Unix())
}
