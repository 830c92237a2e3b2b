package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"speech-translate-server/internal/bootstrap"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	serve := func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "[%s] [INFO] [Bootstrap] starting speech-translate-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
		return bootstrap.Run(cmd.Context(), bootstrap.Options{ConfigPath: configFlag})
	}

	rootCmd := &cobra.Command{
		Use:           "speech-translate-server",
		Short:         "Live and batch speech translation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket servers",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	rootCmd.AddCommand(newTokenCommand(&configFlag))
	return rootCmd
}

func newTokenCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token <client>",
		Short: "Sign an access token for a client using auth.secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := bootstrap.IssueToken(*configFlag, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
}
