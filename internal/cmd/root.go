// Package cmd wires the CLI: flag and config acquisition via cobra and
// viper, then construction of the engine from the validated config.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"artistbatch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "artistbatch",
	Short: "Resumable batch runner for per-artist processing jobs",
	Long: `Artistbatch works through a backlog of artist identifiers one at a
time, supervising a long-lived service process and a per-item worker
process. Progress is durable: completed items are recorded in a local
store and skipped on every later run, so the job can be interrupted and
resumed indefinitely.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./artistbatch.yaml)")
	rootCmd.PersistentFlags().String("work-root", "", "directory holding the worker scripts")
	rootCmd.PersistentFlags().String("data-root", "", "directory holding the stores and logs")
	rootCmd.PersistentFlags().String("log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("workspace.work_root", rootCmd.PersistentFlags().Lookup("work-root"))
	_ = viper.BindPFlag("workspace.data_root", rootCmd.PersistentFlags().Lookup("data-root"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("artistbatch")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/artistbatch")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ARTISTBATCH")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ARTISTBATCH_WORKSPACE_DATA_ROOT for workspace.data_root
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
