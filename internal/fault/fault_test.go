package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfThroughWrapping(t *testing.T) {
	t.Parallel()

	base := New(ModelLoad, "load model", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("transcribe: %w", base)

	require.Equal(t, ModelLoad, KindOf(wrapped))
	require.ErrorIs(t, wrapped, ModelLoad)
	require.NotErrorIs(t, wrapped, EngineRun)
	require.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
}

func TestKindOfPlainError(t *testing.T) {
	t.Parallel()

	require.Equal(t, Unknown, KindOf(errors.New("boom")))
	require.Equal(t, Unknown, KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := Newf(UnsupportedFormat, "check", "channels=%d", 2)
	require.Equal(t, "check: unsupported_format: channels=2", err.Error())

	text, mErr := EngineInit.MarshalText()
	require.NoError(t, mErr)
	require.Equal(t, "engine_init", string(text))
	require.Equal(t, "kind(99)", Kind(99).String())
}
