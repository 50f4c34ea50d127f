package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vaultsync/vaultsync/internal/config"
	"github.com/vaultsync/vaultsync/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "vaultsync",
	Short:   "Keep a local note vault and a git-backed remote convergent",
	Version: version.Detailed(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringP("vault", "d", "", "vault directory")
	rootCmd.PersistentFlags().String("owner", "", "remote repository owner")
	rootCmd.PersistentFlags().String("repo", "", "remote repository name")
	rootCmd.PersistentFlags().String("branch", "main", "tracked branch")
	rootCmd.PersistentFlags().String("token", "", "remote API token")
	rootCmd.PersistentFlags().String("remote-dir", "", "local bare repository to sync against instead of a hosted remote")
	rootCmd.PersistentFlags().StringP("policy", "p", "manual", "conflict policy: manual|keepBoth|preferLocal|preferRemote")
	rootCmd.PersistentFlags().Duration("interval", 5*time.Minute, "sync interval for the run command")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd, syncCmd, statusCmd, conflictsCmd, logsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		configPath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(filepath.Dir(config.DefaultConfigPath))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("vault_dir", cmd.Flags().Lookup("vault"))
	viper.BindPFlag("owner", cmd.Flags().Lookup("owner"))
	viper.BindPFlag("repo", cmd.Flags().Lookup("repo"))
	viper.BindPFlag("branch", cmd.Flags().Lookup("branch"))
	viper.BindPFlag("token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("remote_dir", cmd.Flags().Lookup("remote-dir"))
	viper.BindPFlag("policy", cmd.Flags().Lookup("policy"))
	viper.BindPFlag("interval", cmd.Flags().Lookup("interval"))

	viper.SetEnvPrefix("VAULTSYNC")
	viper.AutomaticEnv()

	debug, _ := cmd.Flags().GetBool("debug")
	setupLogging(debug)
	return nil
}

// currentConfig builds and validates the immutable run configuration from
// whatever viper collected.
func currentConfig() (*config.Config, error) {
	cfg := &config.Config{
		VaultDir:    viper.GetString("vault_dir"),
		Owner:       viper.GetString("owner"),
		Repo:        viper.GetString("repo"),
		Token:       viper.GetString("token"),
		APIBaseURL:  viper.GetString("api_base_url"),
		RemoteDir:   viper.GetString("remote_dir"),
		Branch:      viper.GetString("branch"),
		Policy:      viper.GetString("policy"),
		Interval:    viper.GetDuration("interval"),
		IgnoreGlobs: viper.GetStringSlice("ignore_globs"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
