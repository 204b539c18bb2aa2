package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/jolt/taskflow/pkg/log"
)

var rootCmd = &cobra.Command{
	Use:   "taskflow",
	Short: "Memory admission aware GPU task executor",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			log.Fatal(err)
		}

		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}

		viper.SetEnvPrefix("taskflow")
		viper.AutomaticEnv()

		viper.SetConfigName("taskflow.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/taskflow/")
		viper.AddConfigPath("$HOME/.config/taskflow")
		viper.AddConfigPath(".")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				log.Fatal(err)
			}
			log.Debug("No configuration file found, using defaults")
		} else {
			log.Debug("Using configuration file", viper.ConfigFileUsed())
		}
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Verbosity (repeatable)")
	setConfigDefaults()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
