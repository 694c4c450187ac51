package version

// Version is set at build time with -ldflags "-X github.com/projectqai/sonar/version.Version=...".
var Version = "dev"
