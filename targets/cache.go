package targets

// Defines filter keys for ignoring caches for specific phases of the build.
const (
	IgnoreCacheKeyContainer = "devrig.container"
	IgnoreCacheKeyWorker    = "devrig.worker"
)
