package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/joho/godotenv/autoload"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - Layered Image Registry",
	Long: `Stratum is a content-addressed registry for layered images: it stores
immutable layer archives under pluggable storage backends, verifies pushes
with checksums, and computes layer diffs in background workers.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./stratum.toml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("stratum")
		viper.SetConfigType("toml")

		// Current directory (highest priority)
		viper.AddConfigPath(".")

		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userConfigDir + "/stratum")
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(homeDir + "/.stratum")
		}

		viper.AddConfigPath("/etc/stratum")
	}

	viper.SetEnvPrefix("stratum")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
