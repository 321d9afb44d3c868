package main

import (
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/dshills/querypipe/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func runVersion(_ *cobra.Command, _ []string) error {
	v := version
	if sv, err := semver.NewVersion(version); err == nil {
		v = sv.String()
	}
	fmt.Printf("Version:          %s\n", v)
	fmt.Printf("Build Time:       %s\n", buildTime)
	fmt.Printf("Schema Version:   %s\n", storage.CurrentSchemaVersion)
	fmt.Printf("Build Mode:       %s\n", storage.BuildMode)
	fmt.Printf("SQLite Driver:    %s\n", storage.DriverName)
	fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
	fmt.Printf("Go Version:       %s\n", runtime.Version())
	fmt.Printf("OS/Arch:          %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return nil
}
