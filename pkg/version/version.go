package version

// Set through -ldflags at build time.
var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
)
