package cli

import (
	"fmt"

	"github.com/acknak/pothook/internal/audio"
	"github.com/spf13/cobra"
)

func newCheckCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "check <wav-file>",
		Short: "Check that a WAV file is mono 16 kHz 16-bit PCM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if err := audio.CheckFormat(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			format, err := audio.InspectWAV(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.outWriter(), "%s: ok (%s)\n", path, format)
			return nil
		},
	}
}
