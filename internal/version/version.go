package version

const (
	PGMinVersion = 130000
	PG14Version  = 140000
)

var (
	BinName    = "bwkafka"
	Version    = "0.1.0-dev"
	CommitHash = "unknown"
	Branch     = "unknown"
)
