package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/dns"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/ui"
)

var (
	flagRoomsDomain string
	flagRoomsServer string
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms on a server",
	Example: `  warpcall rooms
  warpcall rooms --server ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{
			Domain:    flagRoomsDomain,
			ServerURL: flagRoomsServer,
		})
		if err != nil {
			return err
		}

		stopSpinner := ui.RunConnectionSpinner("Fetching rooms...")
		rooms, err := fetchRooms(cmd.Context(), newHTTPClient(), cfg.HTTPBaseURL())
		stopSpinner()
		if err != nil {
			return err
		}

		ui.PrintInfof("%d active room(s) on %s", len(rooms), cfg.HTTPBaseURL())
		fmt.Println(ui.RoomsTableView(rooms, time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVar(&flagRoomsDomain, "domain", "", "Custom domain")
	roomsCmd.Flags().StringVar(&flagRoomsServer, "server", "", "Signaling WebSocket URL (overrides --domain)")
}

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dns.NewResolver().DialContext
	return &http.Client{Transport: transport, Timeout: 15 * time.Second}
}

func fetchRooms(ctx context.Context, hc *http.Client, baseURL string) ([]signaling.RoomSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body signaling.ErrorPayload
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
			return nil, fmt.Errorf("fetch rooms: %s", body.Error)
		}
		return nil, fmt.Errorf("fetch rooms: unexpected status %s", resp.Status)
	}

	var out struct {
		Rooms []signaling.RoomSnapshot `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return out.Rooms, nil
}
