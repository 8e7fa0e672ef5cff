package audio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"intellect/internal/speech"
)

var _ speech.Microphone = (*Microphone)(nil)

func TestMicrophone_CloseIsRepeatable(t *testing.T) {
	m := NewMicrophone(nil)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.Nil(t, m.ctx)
}
