package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func RateLimitKey(tokenPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", tokenPrefix)
}

func ClaimedJobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:claimed:%s", jobID)
}

func DispatchLeaseKey(jobID uuid.UUID) string {
	return fmt.Sprintf("push:lease:%s", jobID)
}
