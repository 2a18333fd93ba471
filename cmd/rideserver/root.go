package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/df-mc/dragonfly/server"
	"github.com/oriumgames/ride"
	"github.com/oriumgames/ride/dragonfly"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

type options struct {
	config       string
	serverConfig string
	admins       []string
	shards       int
	debug        bool
}

func newRootCmd() *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:          "rideserver",
		Short:        "Dragonfly server with steerable mounts",
		Long:         "rideserver runs a Dragonfly server with the ride add-on installed. Players mount any rideable entity, including other players, and steer it with WASD.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&opts.config, "config", "config/ride.toml", "ride configuration file")
	flags.StringVar(&opts.serverConfig, "server-config", "config.toml", "Dragonfly server configuration file")
	flags.StringSliceVar(&opts.admins, "admin", nil, "player names allowed to run /ride reload")
	flags.IntVar(&opts.shards, "shards", 0, "scheduler shards (0 = GOMAXPROCS)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), ride.Version)
			return err
		},
	}
}

func run(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	uc, err := readServerConfig(opts.serverConfig)
	if err != nil {
		return err
	}
	conf, err := uc.Config(log)
	if err != nil {
		return fmt.Errorf("rideserver: server config: %w", err)
	}

	b := dragonfly.New(dragonfly.NewAdmins(opts.admins...))
	b.Inputs().WrapListeners(&conf)
	srv := conf.New()

	plugin, err := ride.NewBuilder().
		Config(opts.config).
		Executor(b.Entities()).
		Shards(opts.shards).
		Logger(log).
		Init()
	if err != nil {
		return err
	}
	b.Attach(plugin)

	go func() {
		<-ctx.Done()
		plugin.Shutdown()
		if err := srv.Close(); err != nil {
			log.Error("rideserver: close server", "error", err)
		}
	}()

	srv.Listen()
	for p := range srv.Accept() {
		b.Accept(p)
	}
	plugin.Shutdown()
	return nil
}

// readServerConfig reads the Dragonfly configuration at path, writing the
// defaults there first if the file does not exist.
func readServerConfig(path string) (server.UserConfig, error) {
	c := server.DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		data, err = toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("rideserver: encode default server config: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return c, fmt.Errorf("rideserver: write default server config: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("rideserver: read server config: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("rideserver: decode server config: %w", err)
	}
	return c, nil
}
