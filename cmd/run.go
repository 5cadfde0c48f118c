package cmd

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/moolen/k3s-bootstrap/pkg/installer"
	"github.com/moolen/k3s-bootstrap/pkg/precondition"
)

var k3sArgs []string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Install k3s, bootstrap Flux, register with EKS and inject Vault secrets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := newInstaller(func(o *installer.Options) { o.K3sArgs = k3sArgs })

		if err := f.Prepare(cmd.Context()); err != nil {
			var missing *precondition.MissingConfigurationError
			if errors.As(err, &missing) {
				_ = reportMissing(cmd.ErrOrStderr(), missing.Names)
			}
			return fmt.Errorf("error preparing installer: %w", err)
		}

		logrus.Debugf("Checking prerequisites...")
		if err := f.CheckPrerequisites(); err != nil {
			if !dryRun {
				return fmt.Errorf("prerequisite checks failed: %w", err)
			}
			logrus.Warnf("Prerequisite checks failed: %v", err)
		}

		return f.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&k3sArgs, "k3s-arg", nil, "extra argument passed to the k3s server (repeatable)")
	rootCmd.AddCommand(runCmd)
}
