package rediskey

import "fmt"

const (
	ContentRankingKey = "content:ranking:popscore"
	SchedulerLockKey  = "scheduler:lock"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSchedulerLockKey returns "scheduler:lock:{job}"
func BuildSchedulerLockKey(job string) string {
	return NamespaceKey(SchedulerLockKey, job)
}
