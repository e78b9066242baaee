package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"jobmate/analysis-service/internal/config"
	"jobmate/analysis-service/internal/logger"
)

const app = "analysis-service"

var (
	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:           app,
		Short:         "analysis-service scores job applications against job requirements",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "a dotenv file loaded before the environment (ignored when missing)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// setup builds the logger and loads the validated configuration.
func setup() (*zap.Logger, *config.Config, error) {
	log, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, nil, fmt.Errorf("creating a logger: %w", err)
	}
	cfg, err := config.Load(viper.GetViper(), cfgFile, envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return log, cfg, nil
}
