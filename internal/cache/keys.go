package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func PrincipalKey(authUserID uuid.UUID) string {
	return fmt.Sprintf("principal:%s", authUserID)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
