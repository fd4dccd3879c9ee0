package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/dns"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/signaling/client"
	"github.com/BioHazard786/Warpcall/internal/ui"
)

var (
	flagJoinDomain   string
	flagJoinServer   string
	flagJoinName     string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinRelay    bool
	flagJoinPlain    bool
	flagJoinLogLevel string
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id|url]",
	Aliases: []string{"j"},
	Short:   "Join a call from the terminal",
	Long: `Join a mesh call as a headless participant.

The CLI receives everyone's audio and video, counts what arrives, and takes
part in the room chat. Without a room ID a new room is created and its link
is printed so others can join from the browser.`,
	Example: `  warpcall join
  warpcall join brave-red-otter
  warpcall join https://warpcall.qzz.io/r/brave-red-otter --name ana
  warpcall join standup --plain --relay`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roomID string
		if len(args) == 1 {
			id, err := parseRoomInput(args[0])
			if err != nil {
				return err
			}
			if id != strings.TrimSpace(args[0]) {
				ui.PrintSuccessf("Extracted room ID: %s", id)
			}
			roomID = id
		}
		return joinCall(cmd.Context(), roomID)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinDomain, "domain", "", "Custom domain")
	joinCmd.Flags().StringVar(&flagJoinServer, "server", "", "Signaling WebSocket URL (overrides --domain)")
	joinCmd.Flags().StringVarP(&flagJoinName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagJoinSTUN, "stun", "", "Custom STUN server")
	joinCmd.Flags().StringVar(&flagJoinTURN, "turn", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagJoinRelay, "relay", false, "Force TURN relay")
	joinCmd.Flags().BoolVar(&flagJoinPlain, "plain", false, "Line mode instead of the interactive view")
	joinCmd.Flags().StringVar(&flagJoinLogLevel, "log-level", "", "Log to stderr at this level")
}

func joinCall(ctx context.Context, roomID string) error {
	cfg, err := config.Load(config.Options{
		Domain:     flagJoinDomain,
		ServerURL:  flagJoinServer,
		Name:       flagJoinName,
		STUNServer: flagJoinSTUN,
		TURNServer: flagJoinTURN,
		TURNUser:   flagJoinTURNUser,
		TURNPass:   flagJoinTURNPass,
		ForceRelay: flagJoinRelay,
	})
	if err != nil {
		return err
	}
	if cfg.ForceRelay && !flagJoinRelay {
		ui.PrintWarning("Tunnel interface detected, forcing TURN relay")
	}

	// The interactive view owns the terminal, so call logs are dropped
	// unless asked for.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if flagJoinLogLevel != "" {
		logger = logging.New(os.Stderr, logging.ParseLevel(flagJoinLogLevel, slog.LevelInfo))
	}

	fmt.Println()
	sp := ui.NewConnectionSpinner("Connecting to server...")
	sp.Start()
	sig := client.New(cfg.WebSocketURL, dns.NewResolver())
	if err := sig.Connect(ctx); err != nil {
		sp.Error("Could not reach the signaling server")
		return err
	}
	defer sig.Close()

	sp.UpdateMessage("Preparing media engine...")
	api, err := call.NewAPI(call.APIConfig{Logger: logger.With("component", "pion")})
	if err != nil {
		sp.Error("Could not set up WebRTC")
		return err
	}
	sp.Success(fmt.Sprintf("Connected to %s", cfg.HTTPBaseURL()))

	handler := client.NewHandler(sig)
	go handler.Start()

	c := call.New(sig, handler, call.Options{
		RoomID:             roomID,
		Name:               cfg.Name,
		ICEServers:         cfg.ICEServers(),
		ICETransportPolicy: cfg.ICETransportPolicy(),
		API:                api,
		Logger:             logger,
	})

	callCtx, hangup := context.WithCancel(ctx)
	defer hangup()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(callCtx) }()

	if flagJoinPlain {
		runPlain(callCtx, c, cfg)
	} else if err := runInteractive(c, cfg); err != nil {
		hangup()
		<-runErr
		return err
	}

	hangup()
	err = <-runErr

	fmt.Println()
	if c.RoomID() != "" {
		fmt.Println(ui.CallSummaryView(c.Summary()))
	}
	if errors.Is(err, call.ErrSignalingClosed) && ctx.Err() != nil {
		return nil
	}
	return err
}

func runInteractive(c *call.Call, cfg *config.Config) error {
	model := ui.NewCallModel(c, cfg.GetRoomLink)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("call view: %w", err)
	}
	return nil
}

// runPlain prints events as lines and sends stdin lines as chat. It returns
// when the call ends, ctx is done, or stdin is closed.
func runPlain(ctx context.Context, c *call.Call, cfg *config.Config) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	waiting := ui.NewWaitingSpinner("Joining room...")
	waiting.Start()
	defer waiting.Stop()

	events := c.Events()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			waiting.Stop()
			if ev.Kind == call.EventJoined {
				info := ui.RoomInfo{RoomID: ev.RoomID, RoomLink: cfg.GetRoomLink(ev.RoomID), Created: ev.Created}
				fmt.Println(info.View())
				fmt.Println()
				continue
			}
			if line := ui.FormatEvent(ev); line != "" {
				fmt.Println(line)
			}

		case text, ok := <-lines:
			if !ok {
				return
			}
			text = strings.TrimSpace(text)
			switch text {
			case "":
				continue
			case "/quit", "/leave":
				return
			}
			if err := c.SendChat(text); err != nil {
				ui.PrintErrorf("chat not sent: %v", err)
			}
		}
	}
}

// parseRoomInput accepts a bare room ID or a room link like
// https://host/r/<id>.
func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		return roomID, nil
	}

	if !signaling.ValidRoomID(input) {
		return "", fmt.Errorf("invalid room ID %q", input)
	}
	return input, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("parse room link: %w", err)
	}

	parts := strings.Split(strings.TrimSuffix(parsedURL.Path, "/"), "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			if !signaling.ValidRoomID(parts[i+1]) {
				return "", fmt.Errorf("invalid room ID %q in %s", parts[i+1], urlStr)
			}
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}
