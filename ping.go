package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bookmarker/bookmarker-go/internal/session"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the service is reachable",
		Args:  cobra.NoArgs,
		RunE:  runPing,
	}
}

func runPing(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	health, err := cc.Client.Probe(cmd.Context())

	switch {
	case errors.Is(err, session.ErrTimeout):
		return fmt.Errorf("%s did not answer in time: %w", cc.BaseURL, err)
	case errors.Is(err, session.ErrNetwork):
		return fmt.Errorf("%s is unreachable: %w", cc.BaseURL, err)
	case err != nil:
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, health)
	}

	fmt.Fprintf(cc.Out, "%s %s (status: %s)\n", colorOK.Sprint("OK"), cc.BaseURL, health.Status)

	return nil
}
