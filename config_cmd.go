package main

import (
	"github.com/spf13/cobra"

	"github.com/bookmarker/bookmarker-go/internal/config"
	"github.com/bookmarker/bookmarker-go/internal/credstore"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-url <url>",
		Short: "Save the service base URL in the session store",
		Long: `Save the service base URL in the session store. The saved URL is used
unless --base-url or BOOKMARKER_BASE_URL overrides it, and takes precedence
over base_url in the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: runConfigSetURL,
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "init",
		Short:       "Write a starter config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	return config.RenderEffective(cc.Cfg, cc.CfgPath, cc.BaseURL, cc.Out)
}

func runConfigSetURL(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	url := credstore.NormalizeBaseURL(args[0])
	if err := config.ValidateBaseURL(url); err != nil {
		return err
	}

	if err := cc.Creds.SetBaseURL(cmd.Context(), url); err != nil {
		return err
	}

	cc.Statusf("Service URL set to %s.\n", url)

	if cc.Flags.BaseURL != "" || cc.Env.BaseURL != "" {
		cc.Statusf("%s\n", colorWarn.Sprint("Note: --base-url or "+config.EnvBaseURL+" currently overrides it."))
	}

	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := config.WriteTemplate(cc.CfgPath); err != nil {
		return err
	}

	cc.Statusf("Wrote %s.\n", cc.CfgPath)

	return nil
}
