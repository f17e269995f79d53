package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobProgressKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s:progress", jobID)
}

func RateLimitKey(clientID string) string {
	return fmt.Sprintf("ratelimit:%s", clientID)
}

func GovernorWindowKey(provider string) string {
	return fmt.Sprintf("governor:%s:window", provider)
}

func GovernorTokenKey(provider string, minuteUnix int64) string {
	return fmt.Sprintf("governor:%s:tokens:%d", provider, minuteUnix)
}

func ResultKey(resultID uuid.UUID) string {
	return fmt.Sprintf("result:%s", resultID)
}

// JobEventsChannel is the pub/sub channel completion notifications go out on.
const JobEventsChannel = "riskscan:job-events"
