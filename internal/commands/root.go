package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/carecall/internal/config"
	"github.com/BioHazard786/carecall/internal/ui"
	"github.com/BioHazard786/carecall/internal/version"
)

var (
	flagRelay      string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagForceRelay bool
	flagTimeout    time.Duration
	flagPlain      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "carecall",
	Short:   "Peer-to-peer video consultation check using WebRTC",
	Long:    `carecall connects a clinician and a patient through the carecall relay and verifies that a direct WebRTC connection between them works. One side runs "carecall call", the other "carecall answer <room>".`,
	Version: version.Version,
}

// Execute runs the command tree. It is called by main.main.
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

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagRelay, "relay", "r", "", "Relay URL or host (env CARECALL_RELAY_URL)")
	flags.StringVar(&flagSTUN, "stun", "", "STUN server URL, or \"none\" (env STUN_SERVER)")
	flags.StringVar(&flagTURN, "turn", "", "TURN server host (env TURN_SERVER)")
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	flags.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	flags.BoolVar(&flagForceRelay, "force-relay", false, "Only use TURN relay candidates")
	flags.DurationVarP(&flagTimeout, "timeout", "t", 2*time.Minute, "Give up if the call is not complete in this time")
	flags.BoolVar(&flagPlain, "plain", false, "Print plain progress lines instead of the interactive view")
}

func loadClientConfig() (*config.Client, error) {
	return config.LoadClient(config.ClientOptions{
		Relay:      flagRelay,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagForceRelay,
	})
}
