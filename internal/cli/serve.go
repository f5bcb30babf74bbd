package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/acknak/pothook/internal/events"
	"github.com/acknak/pothook/internal/server"
	"github.com/acknak/pothook/internal/session"
	"github.com/acknak/pothook/internal/transcript"
	"github.com/acknak/pothook/internal/whisper"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	eventReplay     = 1024
	shutdownTimeout = 5 * time.Second
)

func newServeCmd(app *appState) *cobra.Command {
	var (
		addr        string
		silenceGate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session, pipelines and event stream over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.init(); err != nil {
				return err
			}
			if addr == "" {
				addr = app.cfg.HTTPAddr
			}

			engine, err := app.newEngine()
			if err != nil {
				return fmt.Errorf("%w (choose another engine with --engine or POTHOOK_ENGINE)", err)
			}
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			return app.serve(cmd.Context(), addr, engine, modelDir, silenceGate)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default POTHOOK_HTTP_ADDR)")
	cmd.Flags().BoolVar(&silenceGate, "silence-gate", false, "Skip the engine for near-silent audio")
	return cmd
}

func (a *appState) serve(ctx context.Context, addr string, engine whisper.Engine, modelDir string, silenceGate bool) error {
	bus := events.NewBus(a.cfg.EventBuffer, eventReplay, a.log())
	store := session.NewStore(bus)
	store.SetLang(a.cfg.Language)
	collector := transcript.NewCollector(store)

	sub, unsubscribe := bus.Subscribe(events.ChannelWhisper)
	defer unsubscribe()

	srv := server.New(addr, server.Deps{
		Store:     store,
		Bus:       bus,
		Converter: a.converter(bus),
		Driver: &whisper.Driver{
			Engine:      engine,
			Store:       store,
			Publisher:   bus,
			Logger:      a.log(),
			Threads:     a.cfg.Threads,
			SilenceGate: silenceGate,
		},
		Transcript: collector,
		ModelDir:   modelDir,
		Logger:     a.log(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		collector.Follow(gctx, sub)
		return nil
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.log().Info("serving", zap.String("addr", addr), zap.String("engine", engine.Name()), zap.String("model_dir", modelDir))
	return g.Wait()
}
