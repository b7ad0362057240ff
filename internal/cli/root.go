// Package cli implements the taskstream command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskstream/config"
	"github.com/GoCodeAlone/taskstream/internal/version"
)

type ctxKey struct{}

// env carries the loaded config and logger through command contexts.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func envFrom(ctx context.Context) *env {
	e, _ := ctx.Value(ctxKey{}).(*env)
	return e
}

func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "taskstream",
		Short:        "Follow backend task execution streams from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			}))
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "taskstream.yaml", "path to config file (defaults apply if missing)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.Version = fmt.Sprintf("%s (%s, built %s)", version.Version, version.Commit, version.BuildDate)
	cmd.SetVersionTemplate("{{.Version}}\n")

	return cmd
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist so the CLI works out of the box.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
