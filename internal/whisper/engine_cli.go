package whisper

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/acknak/pothook/internal/audio"
	"github.com/acknak/pothook/internal/fault"
	"github.com/acknak/pothook/internal/platform"
	"go.uber.org/zap"
)

// ggmlMagic is the little-endian file magic of whisper.cpp model files.
var ggmlMagic = []byte("lmgg")

const speakerTurnMarker = "[SPEAKER_TURN]"

var segmentLine = regexp.MustCompile(`^\[(\d+):(\d{2}):(\d{2})[.,](\d{3}) --> (\d+):(\d{2}):(\d{2})[.,](\d{3})\]\s?(.*)$`)

// CLIEngine runs whisper-cli as a subprocess and streams the segments it
// prints.
type CLIEngine struct {
	Executable string
	Logger     *zap.Logger
}

// NewCLIEngine resolves whisper-cli: the override when set, otherwise a
// copy installed next to the running binary, otherwise PATH.
func NewCLIEngine(override string, logger *zap.Logger) (*CLIEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override = strings.TrimSpace(override); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fault.New(fault.EngineInit, "resolve engine", fmt.Errorf("configured whisper path is not executable: %w", err))
		}
		return &CLIEngine{Executable: override, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fault.New(fault.EngineInit, "resolve engine", fmt.Errorf("resolve pothook executable path: %w", err))
	}
	exe, err := ResolveEnginePath(self)
	if err != nil {
		return nil, err
	}
	return &CLIEngine{Executable: exe, Logger: logger}, nil
}

// ResolveEnginePath looks for whisper-cli around selfExecutable and then on
// PATH.
func ResolveEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	if found, err := exec.LookPath(engineBinaryName()); err == nil {
		return found, nil
	}
	return "", fault.Newf(fault.EngineInit, "resolve engine",
		"whisper engine not found near %s or on PATH; install whisper-cli or set POTHOOK_WHISPER_PATH", selfExecutable)
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	name := engineBinaryName()
	hostTarget := platform.CurrentRuntime().Target()

	return []string{
		filepath.Join(binDir, "..", "libexec", "pothook", name),
		filepath.Join(binDir, "libexec", "pothook", name),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, name),
		filepath.Join(binDir, name),
	}
}

func (e *CLIEngine) Name() string {
	return "whisper-cli"
}

// Policies reports what whisper-cli accepts on its command line: -tdrz and
// -sns, but no bound on the initial timestamp.
func (e *CLIEngine) Policies() Policies {
	return Policies{Diarize: true, SuppressNonSpeech: true}
}

// Load only validates the model file; whisper-cli reads it on every run.
func (e *CLIEngine) Load(_ context.Context, modelPath string) (Model, error) {
	if err := checkModelFile(modelPath); err != nil {
		return nil, err
	}
	return &cliModel{engine: e, path: modelPath}, nil
}

func checkModelFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return fault.Newf(fault.ModelLoad, "load model", "model path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return fault.New(fault.ModelLoad, "load model", err)
	}
	defer f.Close()

	magic := make([]byte, len(ggmlMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return fault.New(fault.ModelLoad, "load model", fmt.Errorf("read header of %s: %w", path, err))
	}
	if !bytes.Equal(magic, ggmlMagic) {
		return fault.Newf(fault.ModelLoad, "load model", "%s is not a ggml whisper model", path)
	}
	return nil
}

type cliModel struct {
	engine *CLIEngine
	path   string
}

func (m *cliModel) NewState() (State, error) {
	if err := ensureExecutable(m.engine.Executable); err != nil {
		return nil, fault.New(fault.EngineInit, "init engine", fmt.Errorf("whisper engine missing or not executable: %w", err))
	}
	return &cliState{model: m}, nil
}

func (m *cliModel) Close() error {
	return nil
}

type cliState struct {
	model *cliModel
}

func (s *cliState) args(p Params, wavPath string) []string {
	lang := strings.TrimSpace(p.Language)
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", s.model.path,
		"-f", wavPath,
		"-l", lang,
		"-bo", "1",
		"-bs", "1",
		"-ot", strconv.FormatInt(p.OffsetMS, 10),
		"-d", strconv.FormatInt(p.DurationMS, 10),
		"-np",
	}
	if p.Translate {
		args = append(args, "-tr")
	}
	if p.Diarize {
		args = append(args, "-tdrz")
	}
	if p.SuppressNonSpeech {
		args = append(args, "-sns")
	}
	if p.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(p.Threads))
	}
	return args
}

// Full hands samples to whisper-cli through a temporary canonical WAV and
// reports each printed segment line before the process exits.
func (s *cliState) Full(ctx context.Context, p Params, samples []float32, onSegment SegmentFunc) error {
	engine := s.model.engine
	logger := engine.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	wavPath, cleanup, err := writeTempWAV(samples)
	if err != nil {
		return err
	}
	defer cleanup()

	args := s.args(p, wavPath)
	cmd := exec.CommandContext(ctx, engine.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fault.New(fault.EngineRun, "run engine", err)
	}

	logger.Debug("running whisper engine", zap.String("engine", engine.Executable), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return fault.New(fault.EngineRun, "run engine", err)
	}

	index := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		seg, ok := parseSegmentLine(scanner.Text())
		if !ok {
			continue
		}
		seg.Index = index
		index++
		if onSegment != nil {
			onSegment(seg)
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyRunError(engine.Executable, err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return fault.New(fault.EngineRun, "read engine output", scanErr)
	}
	return nil
}

func writeTempWAV(samples []float32) (string, func(), error) {
	f, err := os.CreateTemp("", "pothook-*.wav")
	if err != nil {
		return "", nil, fault.New(fault.EngineRun, "stage audio", err)
	}
	path := f.Name()
	_ = f.Close()
	cleanup := func() { _ = os.Remove(path) }

	if err := audio.EncodeWAV(path, audio.Signal{Samples: samples, SampleRate: audio.TargetSampleRate}); err != nil {
		cleanup()
		return "", nil, fault.New(fault.EngineRun, "stage audio", err)
	}
	return path, cleanup, nil
}

func classifyRunError(executable string, err error, errText string) error {
	switch {
	case isMissingSharedLibraryError(errText):
		return fault.New(fault.EngineRun, "run engine", fmt.Errorf(
			"whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF", executable, errText))
	case isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()):
		return fault.New(fault.EngineRun, "run engine", errors.New(
			"whisper engine crashed with an illegal CPU instruction; "+
				"set POTHOOK_WHISPER_PATH to a whisper-cli binary built for your CPU"))
	}
	if errText == "" {
		return fault.New(fault.EngineRun, "run engine", err)
	}
	return fault.New(fault.EngineRun, "run engine", fmt.Errorf("%w (%s)", err, errText))
}

// parseSegmentLine reads "[hh:mm:ss.mmm --> hh:mm:ss.mmm]  text" as printed
// by whisper-cli.
func parseSegmentLine(line string) (Segment, bool) {
	m := segmentLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return Segment{}, false
	}
	text := strings.TrimSpace(m[9])
	turn := false
	if strings.HasSuffix(text, speakerTurnMarker) {
		turn = true
		text = strings.TrimSpace(strings.TrimSuffix(text, speakerTurnMarker))
	}
	return Segment{
		StartMS:     clockMS(m[1:5]),
		EndMS:       clockMS(m[5:9]),
		Text:        text,
		SpeakerTurn: turn,
	}, true
}

func clockMS(parts []string) int64 {
	h, _ := strconv.ParseInt(parts[0], 10, 64)
	m, _ := strconv.ParseInt(parts[1], 10, 64)
	s, _ := strconv.ParseInt(parts[2], 10, 64)
	ms, _ := strconv.ParseInt(parts[3], 10, 64)
	return ((h*60+m)*60+s)*1000 + ms
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}
	for _, pattern := range []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	} {
		if strings.Contains(value, pattern) {
			return true
		}
	}
	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
