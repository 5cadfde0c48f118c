package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// errMissing makes check exit non-zero after the names were printed.
var errMissing = errors.New("configuration is incomplete")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that every required configuration value is set",
	Long: `Resolves configuration from the environment, the config file and Vault
and prints every missing name on its own line to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newInstaller().Validate(cmd.Context())
		if err != nil {
			return err
		}
		return reportMissing(cmd.ErrOrStderr(), res.Missing)
	},
}

func reportMissing(w io.Writer, missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	for _, name := range missing {
		fmt.Fprintln(w, name)
	}
	return errMissing
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
