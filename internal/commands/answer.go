package commands

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/carecall/internal/call"
	"github.com/BioHazard786/carecall/internal/ui"
)

var answerCmd = &cobra.Command{
	Use:     "answer <room>",
	Aliases: []string{"a"},
	Short:   "Answer a call waiting in a room",
	Long: `Join the caller's room, accept their offer and answer their
round-trip probes until they hang up.

Examples:
  carecall answer calm-heron-cedar-cove
  carecall answer calm-heron-cedar-cove --relay relay.clinic.example`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return answerCall(cmd.Context(), strings.TrimSpace(args[0]))
	},
}

func answerCall(parent context.Context, roomID string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return call.NewError("load config", err)
	}

	conn, err := NewConnectionContext(parent, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	prog := newProgress("Answering "+roomID, []call.Stage{
		call.StageJoining, call.StageWaitingForPeer, call.StageNegotiating, call.StageConnected,
	}, cancel)

	session := call.NewSession(conn.Client, conn.Handler, cfg, call.Options{
		RoomID:  roomID,
		Timeout: flagTimeout,
		OnStage: prog.OnStage,
	})
	defer session.Close()

	res, err := session.Answer(ctx)
	prog.Finish(err)
	if err != nil {
		return err
	}

	if res.HungUp {
		ui.PrintWarning("Caller hung up before finishing the probe")
	}
	ui.PrintSuccessf("Answered %d round-trip probes", res.Answered)
	return nil
}

func init() {
	rootCmd.AddCommand(answerCmd)
}
