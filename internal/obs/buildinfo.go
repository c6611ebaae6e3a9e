package obs

// Version and Commit are overridden at link time with -ldflags "-X".
var (
	Version = "0.1.0"
	Commit  = "unknown"
)
