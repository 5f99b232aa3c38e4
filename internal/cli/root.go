// Package cli implements the vibecode command line: project registry,
// workspace edits and knowledge notes, persisted through the gateway.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/client"
	"github.com/vibecode/vibecode/internal/gateway"
	"github.com/vibecode/vibecode/internal/localstore"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/workspace"
)

// Config is the resolved CLI configuration.
type Config struct {
	ServerURL string        `mapstructure:"server_url"`
	LocalDB   string        `mapstructure:"local_db"`
	AuthToken string        `mapstructure:"auth_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	LogLevel  string        `mapstructure:"log_level"`
	Offline   bool          `mapstructure:"offline"`
}

func defaultLocalDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".vibecode", "local.db")
	}
	return filepath.Join(dir, "vibecode", "local.db")
}

// app holds the stores opened for one command.
type app struct {
	cfg     Config
	v       *viper.Viper
	cfgFile string

	local  *localstore.Store
	remote *client.Client
	gw     *gateway.Gateway
	writer *gateway.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "vibecode",
		Short:         "Manage vibecode project workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "Path to a configuration file (JSON or YAML)")
	flags.String("server_url", "", "Base URL of the remote store; empty works offline")
	flags.String("local_db", defaultLocalDB(), "Path of the local fallback store")
	flags.String("auth_token", "", "Bearer token for the remote store")
	flags.Duration("timeout", 10*time.Second, "Timeout for each remote call")
	flags.String("log_level", "warn", "Log level (debug, info, warn, error)")
	flags.Bool("offline", false, "Use only the local store")

	for _, key := range []string{"server_url", "local_db", "auth_token", "timeout", "log_level", "offline"} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		newProjectsCommand(a),
		newStatusCommand(a),
		newTokenCommand(a),
		newImportCommand(a),
		newAddFileCommand(a),
		newTreeCommand(a),
		newCatCommand(a),
		newEditCommand(a),
		newApplyCommand(a),
		newExtractCommand(a),
		newKnowledgeCommand(a),
		newClipboardCommand(a),
		newChatCommand(a),
		newTasksCommand(a),
	)
	return root
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix("VIBECODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("vibecode")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "vibecode"))
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&a.cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	return logging.Init(logging.Config{
		Level:      a.cfg.LogLevel,
		Format:     "console",
		OutputPath: "stderr",
	})
}

// open opens the local store and, unless offline, the remote client.
func (a *app) open(ctx context.Context) error {
	local, err := localstore.Open(ctx, a.cfg.LocalDB)
	if err != nil {
		return err
	}
	a.local = local

	var remote gateway.Remote
	if !a.cfg.Offline && a.cfg.ServerURL != "" {
		a.remote = client.New(client.Config{
			BaseURL:   a.cfg.ServerURL,
			Timeout:   a.cfg.Timeout,
			AuthToken: a.cfg.AuthToken,
		})
		remote = a.remote
	}

	a.gw = gateway.New(remote, local, gateway.WithRemoteTimeout(a.cfg.Timeout))
	a.writer = gateway.NewWriter(a.gw, gateway.WriterConfig{
		Timeout: a.cfg.Timeout,
		OnWrite: func(r gateway.WriteResult) {
			logging.Debug("saved",
				logging.Project(r.ProjectID),
				zap.String("kind", string(r.Kind)),
				zap.String("store", r.Outcome.String()))
		},
	})
	return nil
}

func (a *app) close(ctx context.Context) error {
	var firstErr error
	if a.writer != nil {
		if err := a.writer.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if a.local != nil {
		if err := a.local.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// withGateway opens the stores around fn.
func (a *app) withGateway(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.open(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if cerr := a.close(ctx); err == nil {
		err = cerr
	}
	return err
}

// withSession opens a project session around fn.
func (a *app) withSession(cmd *cobra.Command, projectID string, fn func(ctx context.Context, s *workspace.Session) error) error {
	return a.withGateway(cmd, func(ctx context.Context) error {
		s, err := workspace.Open(ctx, a.gw, a.writer, projectID)
		if err != nil {
			return err
		}
		if err := fn(ctx, s); err != nil {
			return err
		}
		return s.Close(ctx)
	})
}
