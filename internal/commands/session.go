package commands

import (
	"context"

	"github.com/BioHazard786/carecall/internal/call"
	"github.com/BioHazard786/carecall/internal/config"
	"github.com/BioHazard786/carecall/internal/dns"
	"github.com/BioHazard786/carecall/internal/signalclient"
	"github.com/BioHazard786/carecall/internal/ui"
)

// ConnectionContext is a live relay connection with its event handler.
type ConnectionContext struct {
	Client  *signalclient.Client
	Handler *signalclient.Handler
	Config  *config.Client
}

func NewConnectionContext(ctx context.Context, cfg *config.Client) (*ConnectionContext, error) {
	stopSpinner := ui.RunConnectionSpinner("Connecting to relay...")
	defer stopSpinner()

	client := signalclient.NewClient(cfg.RelayURL, dns.NewResolver())
	if err := client.Connect(ctx); err != nil {
		return nil, call.NewError("connect to relay", err)
	}

	handler := signalclient.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Handler != nil {
		c.Handler.Close()
	}
	if c.Client != nil {
		c.Client.Close()
	}
}

// progress reports call stages either through the interactive view or as plain lines.
type progress struct {
	status *ui.StatusUI
	steps  map[call.Stage]int
}

func newProgress(title string, stages []call.Stage, cancel func()) *progress {
	p := &progress{steps: make(map[call.Stage]int, len(stages))}
	if flagPlain {
		return p
	}

	labels := make([]string, len(stages))
	for i, st := range stages {
		labels[i] = st.String()
		p.steps[st] = i
	}
	p.status = ui.NewStatusUI(title, labels, cancel)
	p.status.Start()
	return p
}

func (p *progress) OnStage(st call.Stage) {
	if p.status == nil {
		if st != call.StageDone {
			ui.PrintInfo(st.String() + "...")
		}
		return
	}
	if i, ok := p.steps[st]; ok {
		p.status.SetStep(i)
	}
}

func (p *progress) Finish(err error) {
	if p.status != nil {
		p.status.Finish(err != nil)
	}
}
