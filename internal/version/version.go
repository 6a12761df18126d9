package version

// Version is the pulse release, injected via -ldflags. Default "dev".
var Version = "dev"
