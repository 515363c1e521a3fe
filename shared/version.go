package shared

// Version is overridden at build time with -ldflags "-X".
var Version = "0.3.0-dev"
