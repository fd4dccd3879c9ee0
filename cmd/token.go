package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/livekit"
)

var (
	flagTokenConfig   string
	flagTokenIdentity string
	flagTokenName     string
	flagTokenViewOnly bool
	flagTokenJSON     bool
)

var tokenCmd = &cobra.Command{
	Use:   "token <room>",
	Short: "Mint a LiveKit token for a room",
	Long: `Mint a LiveKit access token offline with the server's API key pair.

The key pair is read from LIVEKIT_API_KEY / LIVEKIT_API_SECRET or the [livekit]
section of the config file.`,
	Example: `  warpcall token standup --name ana
  warpcall token standup --view-only --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(config.ServerOptions{ConfigFile: flagTokenConfig})
		if err != nil {
			return err
		}
		minter, err := livekit.NewMinter(cfg.LiveKit)
		if err != nil {
			return fmt.Errorf("%w: set LIVEKIT_API_KEY and LIVEKIT_API_SECRET", err)
		}

		tok, err := minter.Mint(livekit.Grant{
			Room:     args[0],
			Identity: flagTokenIdentity,
			Name:     flagTokenName,
			ViewOnly: flagTokenViewOnly,
		})
		if err != nil {
			return err
		}

		if flagTokenJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tok)
		}
		fmt.Println(tok.Token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVarP(&flagTokenConfig, "config", "c", "", "TOML config file")
	tokenCmd.Flags().StringVar(&flagTokenIdentity, "identity", "", "Participant identity (random when empty)")
	tokenCmd.Flags().StringVarP(&flagTokenName, "name", "n", "", "Display name")
	tokenCmd.Flags().BoolVar(&flagTokenViewOnly, "view-only", false, "Subscribe only, no publishing")
	tokenCmd.Flags().BoolVar(&flagTokenJSON, "json", false, "Print token, URL and expiry as JSON")
}
