//go:build whispercpp

package whisper

import (
	"context"
	"strings"
	"time"

	"github.com/acknak/pothook/internal/fault"
	wcpp "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"
)

// CgoAvailable reports whether the in-process engine was compiled in.
const CgoAvailable = true

// CgoEngine runs whisper.cpp in-process through its Go bindings. Full cannot
// be interrupted once inference started; cancellation only stops segment
// delivery.
type CgoEngine struct {
	Logger *zap.Logger
}

func NewCgoEngine(logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CgoEngine{Logger: logger}, nil
}

func (e *CgoEngine) Name() string {
	return "whisper.cpp"
}

// Policies is empty: the pinned bindings expose none of the decoding policy
// fields of whisper_full_params.
func (e *CgoEngine) Policies() Policies {
	return Policies{}
}

func (e *CgoEngine) Load(_ context.Context, modelPath string) (Model, error) {
	if err := checkModelFile(modelPath); err != nil {
		return nil, err
	}
	model, err := wcpp.New(modelPath)
	if err != nil {
		return nil, fault.New(fault.ModelLoad, "load model", err)
	}
	return &cgoModel{model: model, logger: e.Logger}, nil
}

type cgoModel struct {
	model  wcpp.Model
	logger *zap.Logger
}

func (m *cgoModel) NewState() (State, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fault.New(fault.EngineInit, "init engine", err)
	}
	return &cgoState{ctx: wctx, logger: m.logger}, nil
}

func (m *cgoModel) Close() error {
	return m.model.Close()
}

type cgoState struct {
	ctx    wcpp.Context
	logger *zap.Logger
}

func (s *cgoState) configure(p Params) error {
	lang := strings.TrimSpace(p.Language)
	if lang == "" {
		lang = "auto"
	}
	if err := s.ctx.SetLanguage(lang); err != nil {
		return fault.New(fault.EngineInit, "configure engine", err)
	}
	if p.Translate && !s.ctx.IsMultilingual() {
		return fault.Newf(fault.EngineInit, "configure engine", "model is English-only and cannot translate")
	}
	s.ctx.SetTranslate(p.Translate)
	s.ctx.SetOffset(time.Duration(p.OffsetMS) * time.Millisecond)
	s.ctx.SetDuration(time.Duration(p.DurationMS) * time.Millisecond)
	if p.Threads > 0 {
		s.ctx.SetThreads(uint(p.Threads))
	}
	return nil
}

func (s *cgoState) Full(ctx context.Context, p Params, samples []float32, onSegment SegmentFunc) error {
	if err := s.configure(p); err != nil {
		return err
	}

	index := 0
	cb := func(seg wcpp.Segment) {
		if onSegment == nil || ctx.Err() != nil {
			return
		}
		onSegment(Segment{
			Index:   index,
			StartMS: seg.Start.Milliseconds(),
			EndMS:   seg.End.Milliseconds(),
			Text:    strings.TrimSpace(seg.Text),
		})
		index++
	}

	if err := s.ctx.Process(samples, cb); err != nil {
		return fault.New(fault.EngineRun, "run engine", err)
	}
	s.logger.Debug("whisper.cpp run finished", zap.Int("segments", index))
	return ctx.Err()
}
