package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/carecall/internal/call"
	"github.com/BioHazard786/carecall/internal/roomid"
	"github.com/BioHazard786/carecall/internal/ui"
)

var flagPings int

var callCmd = &cobra.Command{
	Use:     "call [room]",
	Aliases: []string{"c"},
	Short:   "Start a call and wait for the other participant",
	Long: `Join a room on the relay, wait for the other participant, negotiate a
direct WebRTC connection and measure its round-trip time.

A memorable room ID is generated when none is given.

Examples:
  carecall call
  carecall call calm-heron-cedar-cove
  carecall call --relay relay.clinic.example --pings 10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		return startCall(cmd.Context(), roomID)
	},
}

func startCall(parent context.Context, roomID string) error {
	if roomID == "" {
		id, err := roomid.New()
		if err != nil {
			return call.NewError("generate room ID", err)
		}
		roomID = id
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return call.NewError("load config", err)
	}

	conn, err := NewConnectionContext(parent, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Fprintln(ui.Output, ui.RoomInfo{RoomID: roomID, RelayURL: cfg.RelayURL}.View())

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	prog := newProgress("Calling "+roomID, []call.Stage{
		call.StageJoining, call.StageWaitingForPeer, call.StageNegotiating, call.StageConnected, call.StageProbing,
	}, cancel)

	session := call.NewSession(conn.Client, conn.Handler, cfg, call.Options{
		RoomID:  roomID,
		Timeout: flagTimeout,
		Probe:   call.ProbeOptions{Count: flagPings},
		OnStage: prog.OnStage,
	})
	defer session.Close()

	res, err := session.Call(ctx)
	prog.Finish(err)
	if err != nil {
		return err
	}

	summary := ui.ProbeSummary{
		RoomID:   roomID,
		PeerID:   res.PeerID,
		RTTs:     res.Probe.RTTs,
		Sent:     res.Probe.Sent,
		Received: res.Probe.Received,
		Min:      res.Probe.Min,
		Avg:      res.Probe.Avg,
		Max:      res.Probe.Max,
	}
	fmt.Fprintln(ui.Output)
	fmt.Fprintln(ui.Output, ui.ProbeTableView(summary))
	fmt.Fprintln(ui.Output, ui.CallSummaryView(summary))
	ui.PrintSuccess("Direct connection verified")
	return nil
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().IntVarP(&flagPings, "pings", "n", 5, "Number of round-trip probes to send")
}
