/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/moolen/k3s-bootstrap/pkg/installer"
)

var (
	configFile string
	logLevel   string
	dryRun     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "k3s-bootstrap",
	Short: "Bootstrap a single-node k3s cluster with Flux, EKS Connector and Vault",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := execute(); err != nil {
		os.Exit(1)
	}
}

// execute runs the command tree and prints the error, except for errMissing
// whose names were already printed by check.
func execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errMissing) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

func newInstaller(extra ...func(*installer.Options)) *installer.Installer {
	opts := installer.Options{ConfigFile: configFile, DryRun: dryRun}
	for _, fn := range extra {
		fn(&opts)
	}
	return installer.New(opts)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./k3s-bootstrap.yaml or $K3S_BOOTSTRAP_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print commands instead of running them and skip cluster API calls")
}
