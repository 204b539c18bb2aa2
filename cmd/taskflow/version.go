package main

import (
	"fmt"
	"runtime"

	"github.com/denisbrodbeck/machineid"
	"github.com/spf13/cobra"
)

// Set at link time with -ldflags "-X main.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskflow %s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)

		if id, err := machineid.ProtectedID("taskflow"); err == nil {
			fmt.Printf("machine %s\n", id)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
