package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/metrics"
	"github.com/BioHazard786/Warpcall/internal/server"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

var (
	serveConfigFile      string
	serveListenAddr      string
	serveAllowedOrigins  []string
	serveMaxParticipants int
	serveAutoCreate      bool
	serveLogLevel        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay.

Settings are read from flags, then environment variables, then the TOML file
given by --config or WARPCALL_CONFIG, then built-in defaults.`,
	Example: `  warpcall serve
  warpcall serve --listen :9000 --allowed-origin https://call.example
  PORT=8080 LIVEKIT_URL=wss://sfu.example LIVEKIT_API_KEY=... LIVEKIT_API_SECRET=... warpcall serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(serveOptions(cmd))
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg)
	},
}

// serveOptions turns the flags the user actually set into config overrides.
func serveOptions(cmd *cobra.Command) config.ServerOptions {
	opts := config.ServerOptions{
		ConfigFile:     serveConfigFile,
		ListenAddr:     serveListenAddr,
		AllowedOrigins: serveAllowedOrigins,
		LogLevel:       serveLogLevel,
	}
	if cmd.Flags().Changed("max-participants") {
		opts.MaxParticipants = &serveMaxParticipants
	}
	if cmd.Flags().Changed("auto-create-rooms") {
		opts.AutoCreateRooms = &serveAutoCreate
	}
	return opts
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "TOML config file")
	serveCmd.Flags().StringVarP(&serveListenAddr, "listen", "l", "", "listen address (default "+config.DefaultListenAddr+")")
	serveCmd.Flags().StringSliceVar(&serveAllowedOrigins, "allowed-origin", nil, "browser origin allowed to connect (repeatable, * for any)")
	serveCmd.Flags().IntVar(&serveMaxParticipants, "max-participants", config.DefaultMaxParticipants, "participants per room, 0 for unlimited")
	serveCmd.Flags().BoolVar(&serveAutoCreate, "auto-create-rooms", true, "create rooms on join when they do not exist")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context, cfg *config.ServerConfig) error {
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel, slog.LevelInfo))
	slog.SetDefault(logger)

	m := metrics.New()
	hub := signaling.NewHub(signaling.Options{
		MaxParticipants: cfg.MaxParticipants,
		AutoCreateRooms: cfg.AutoCreateRooms,
		MaxChatLength:   cfg.MaxChatLength,
		MessageRate:     cfg.MessageRate,
		MessageBurst:    cfg.MessageBurst,
	}, logger, m)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	srv, err := server.New(cfg, hub, m, logger)
	if err != nil {
		return err
	}

	logger.Info("starting warpcall relay",
		"addr", cfg.ListenAddr,
		"max_participants", cfg.MaxParticipants,
		"auto_create_rooms", cfg.AutoCreateRooms,
		"livekit", cfg.LiveKit.Enabled(),
		"turn_rest", cfg.ICE.TURNSecret != "",
		"ice_servers", len(cfg.ICEServers),
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.Duration.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	stopHub()
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errc
}
