package cache

import "fmt"

// RateLimitKey scopes an ingestion rate-limit counter to one client.
func RateLimitKey(client string) string {
	return fmt.Sprintf("buildwatch:ratelimit:%s", client)
}

// MetricsKey caches the metrics response between store reads.
func MetricsKey() string {
	return "buildwatch:metrics"
}
