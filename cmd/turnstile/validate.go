package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rorqualx/turnstile-solver-go/internal/config"
	"github.com/Rorqualx/turnstile-solver-go/internal/dashboard"
	"github.com/Rorqualx/turnstile-solver-go/internal/sitekey"
)

func newValidateCmd(_ *config.Config) *cobra.Command {
	var (
		pageURL string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "validate <sitekey>",
		Short: "Classify a sitekey as demo, fake or plausible",
		Long:  "Prints the sitekey classification. Exits 2 when the key is a demo or fake key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := sitekey.Validate(args[0], pageURL)
			if jsonOut {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), dashboard.RenderValidation(res))
			}
			if res.Rejected() {
				return &exitError{code: exitNegative, msg: "sitekey rejected: " + res.Type}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pageURL, "url", "", "page the sitekey was found on")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON instead of a styled report")
	return cmd
}
