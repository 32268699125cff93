package redis

// connErrorStrings contains string patterns used to identify connectivity-related
// errors from the Redis client. Matching errors are classified as backend health
// errors so quota callers fail closed instead of treating the outage as zero
// consumption.
//
// Redis operational errors like "NOSCRIPT" or "WRONGTYPE" are intentionally
// excluded; they indicate a bug, not an outage.
var connErrorStrings = []string{
	"connection refused",
	"connection timeout",
	"connection reset",
	"network is unreachable",
	"no such host",
	"timeout",
	"i/o timeout",
	"broken pipe",
	"connection pool exhausted",
}
