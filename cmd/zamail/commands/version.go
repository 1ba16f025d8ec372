package commands

import (
	"fmt"
	"runtime"

	"github.com/roasbeef/zamail/internal/build"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display the version and commit of zamail.`,

	// Skips loading the configuration.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run:               runVersion,
}

// runVersion prints the version and build information.
func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("zamail version %s go=%s\n", build.VersionString(),
		runtime.Version())
}
