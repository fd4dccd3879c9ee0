package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/BioHazard786/Warpcall/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "warpcall",
	Short:   "Group video calls over WebRTC with a tiny signaling relay",
	Long:    `Warpcall runs the signaling relay for browser mesh calls and joins those calls from the terminal. Media flows directly between participants; the relay only forwards offers, answers and ICE candidates. Rooms that outgrow a mesh can switch to a LiveKit SFU using tokens minted by the relay.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
