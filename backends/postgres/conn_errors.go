package postgres

// connErrorStrings contains string patterns used to identify connectivity-related
// errors from the pgx driver. Matching errors are classified as backend health
// errors so quota callers fail closed instead of treating the outage as zero
// consumption.
var connErrorStrings = []string{
	"connection refused",
	"connection reset",
	"network is unreachable",
	"no such host",
	"timeout",
	"i/o timeout",
	"broken pipe",
	"conn closed",
	"pool closed",
	"too many clients",
	"the database system is starting up",
	"the database system is shutting down",
}
