package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/acknak/pothook/internal/download"
	"github.com/acknak/pothook/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	var (
		model  string
		mirror string
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech model assets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.init(); err != nil {
				return err
			}
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			if list {
				return listModels(app, modelDir)
			}

			loc, err := whisper.LocateModel(model, modelDir)
			if err != nil {
				return err
			}
			if loc.IsCustomPath {
				return fmt.Errorf("setup expects a named model; got custom path %s", loc.Path)
			}

			if !loc.NeedsDownload {
				err := download.VerifyFileChecksum(loc.Path, loc.Spec.SHA256)
				if err == nil {
					app.log().Info("model already present", zap.String("model", loc.Spec.Name), zap.String("path", loc.Path))
					fmt.Fprintf(app.outWriter(), "Model %s already present at %s\n", loc.Spec.Name, loc.Path)
					return nil
				}
				app.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", loc.Spec.Name), zap.Error(err))
			}

			app.log().Info("downloading model", zap.String("model", loc.Spec.Name), zap.String("path", loc.Path))
			if err := app.fetchModel(cmd.Context(), loc, mirror); err != nil {
				return err
			}
			fmt.Fprintf(app.outWriter(), "Model %s installed at %s\n", loc.Spec.Name, loc.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", whisper.DefaultModel, "Model to install")
	cmd.Flags().StringVar(&mirror, "mirror", "", "Base URL to download models from")
	cmd.Flags().BoolVar(&list, "list", false, "List known models and whether they are installed")
	return cmd
}

func listModels(app *appState, modelDir string) error {
	tw := tabwriter.NewWriter(app.outWriter(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tFILE\tINSTALLED")
	for _, spec := range whisper.Catalog() {
		loc, err := whisper.LocateModel(spec.Name, modelDir)
		if err != nil {
			return err
		}
		installed := "no"
		if !loc.NeedsDownload {
			installed = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", spec.Name, spec.FileName, installed)
	}
	return tw.Flush()
}
