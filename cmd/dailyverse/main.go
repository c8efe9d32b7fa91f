package main

import (
	"errors"
	"os"
	"strings"

	"github.com/Luknarz/DailyVerse/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const dotEnvFile = ".env"

var (
	cfgFile      string
	dateOverride string
	outputFormat string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dailyverse",
		Short:         "Daily verse rotation, reading streaks and reading history",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newServeCommand(),
		newTodayCommand(),
		newExtraCommand(),
		newReadCommand(),
		newStreakCommand(),
		newResetStreakCommand(),
		newResetSequenceCommand(),
		newParseCommand(),
		newPassageCommand(),
		newFavoriteCommand(),
		newFavoritesCommand(),
		newHistoryCommand(),
		newHistoryClearCommand(),
		newPremiumCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&dateOverride, "date", "", "Treat this day (YYYY-MM-DD) as today")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format (json, yaml)")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("verses-path", defaults.GetString("content.verses_path"), "Verse pool file (.json, .yaml); embedded pool when empty")
	cmd.PersistentFlags().String("passages-path", defaults.GetString("content.passages_path"), "Passage file (.json, .yaml); embedded passages when empty")
	cmd.PersistentFlags().String("timezone", defaults.GetString("calendar.timezone"), "IANA time zone used for day boundaries, or local")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "content.verses_path", "verses-path")
	bindFlag(cmd, "content.passages_path", "passages-path")
	bindFlag(cmd, "calendar.timezone", "timezone")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(dotEnvFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dailyverse")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	switch strings.ToLower(outputFormat) {
	case "json", "yaml", "yml":
		return nil
	default:
		return errors.New("output must be json or yaml")
	}
}
