package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/botctl/internal/auth"
	"github.com/danmuck/botctl/internal/commands"
	"github.com/danmuck/botctl/internal/config"
	"github.com/danmuck/botctl/internal/discord"
	"github.com/danmuck/botctl/internal/files"
	"github.com/danmuck/botctl/internal/install"
	"github.com/danmuck/botctl/internal/keepalive"
	"github.com/danmuck/botctl/internal/manager"
	"github.com/danmuck/botctl/internal/registry"
	"github.com/danmuck/botctl/internal/supervisor"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var noChat bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to chat, restore registered bots, and serve the keep-alive endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, !noChat)
		},
	}
	cmd.Flags().BoolVar(&noChat, "no-chat", false, "serve only the keep-alive endpoint and restore bots without a chat session")
	return cmd
}

// buildManager wires the registry, supervisor, installer and file store.
func buildManager(cfg config.Config) (*manager.Manager, error) {
	reg, err := registry.Open(cfg.RegistryFile)
	if err != nil {
		return nil, err
	}
	sup := supervisor.New(supervisor.Config{
		Interpreter: cfg.Interpreter,
		EntryScript: cfg.EntryScript,
		LogFile:     supervisor.DefaultConfig().LogFile,
		StopGrace:   cfg.StopGrace,
		StripEnv:    []string{cfg.TokenEnv},
	})
	inst, err := install.New(install.Config{
		BaseDir:        cfg.BaseDir,
		EntryScript:    cfg.EntryScript,
		EntryExtension: cfg.EntryExtension,
		AllowedHosts:   cfg.AllowedHosts,
		CloneTimeout:   cfg.CloneTimeout,
		MaxEntrySize:   cfg.MaxUploadBytes,
	})
	if err != nil {
		return nil, err
	}
	return manager.New(manager.Options{
		Registry:   reg,
		Supervisor: sup,
		Installer:  inst,
		Files:      files.NewStore(cfg.FilesDir, cfg.MaxUploadBytes),
		Fetcher:    manager.NewHTTPFetcher(cfg.FetchTimeout),
		Reserved:   manager.Reserved(cfg.BaseDir, cfg.FilesDir),
	})
}

func buildRouter(cfg config.Config, svc commands.Service) (*commands.Router, error) {
	router := commands.NewRouter(cfg.Prefix, auth.NewAllowList(cfg.AllowedUsers))
	if err := commands.RegisterBuiltins(router, svc, cfg.EntryScript, cfg.EntryExtension); err != nil {
		return nil, err
	}
	return router, nil
}

func run(ctx context.Context, cfg config.Config, chat bool) error {
	mgr, err := buildManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	router, err := buildRouter(cfg, mgr)
	if err != nil {
		return err
	}

	var bot *discord.Bot
	if chat {
		bot, err = discord.New(discord.Options{
			Token:          cfg.Token(),
			Router:         router,
			Restorer:       mgr,
			RestoreOnReady: cfg.RestoreOnReady,
		})
		if errors.Is(err, discord.ErrMissingToken) {
			return fmt.Errorf("%w: set %s", err, cfg.TokenEnv)
		}
		if err != nil {
			return err
		}
	} else if cfg.RestoreOnReady {
		mgr.Restore(ctx)
	}

	server := keepalive.New(cfg.ServiceID, cfg.KeepaliveAddr, cfg.CORSOrigins, mgr)
	log.Info().
		Str("service", cfg.ServiceID).
		Str("prefix", cfg.Prefix).
		Str("base_dir", cfg.BaseDir).
		Bool("chat", chat).
		Msg("botctl starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	if bot != nil {
		g.Go(func() error {
			return bot.Run(gctx)
		})
	}
	err = g.Wait()
	log.Info().Int("running", mgr.RunningCount()).Msg("botctl stopping")
	return err
}
