// cmd/version.go
package cmd

// Version is overridden at build time via
// -ldflags "-X github.com/dfmorales/rastreo-cli/cmd.Version=v1.2.3".
var Version = "v0.3.0-dev"
