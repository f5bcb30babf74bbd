//go:build !whispercpp

package whisper

import (
	"github.com/acknak/pothook/internal/fault"
	"go.uber.org/zap"
)

// CgoAvailable reports whether the in-process engine was compiled in.
const CgoAvailable = false

func NewCgoEngine(*zap.Logger) (Engine, error) {
	return nil, fault.Newf(fault.EngineInit, "select engine",
		"in-process whisper.cpp engine not compiled in; rebuild with -tags whispercpp or use the cli engine")
}
