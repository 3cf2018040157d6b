package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlashStateJSONRoundTrip(t *testing.T) {
	states := []FlashState{
		FSIdle,
		FSValidated,
		FSTableCreated,
		FSPartitionsFormatted,
		FSImageWritten,
		FSPersistenceBuilt,
		FSBootloaderConfigured,
		FSVerified,
		FSDone,
		FSFailed,
	}

	for _, state := range states {
		data, err := json.Marshal(state)
		require.NoError(t, err)

		var decoded FlashState
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, state, decoded)
	}
}

func TestFlashStateUnmarshalInvalid(t *testing.T) {
	var state FlashState
	err := json.Unmarshal([]byte(`"NO_SUCH_STATE"`), &state)
	require.Error(t, err)
	assert.IsType(t, &CustomJsonConversionError{}, err)
}

func TestFlashStateToString(t *testing.T) {
	assert.Equal(t, "IDLE", FSIdle.ToString())
	assert.Equal(t, "PARTITIONS_FORMATTED", FSPartitionsFormatted.ToString())
	assert.Equal(t, "DONE", FSDone.ToString())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "64.0 MiB", FormatSize(64*MiB))
	assert.Equal(t, "7.5 GiB", FormatSize(7*GiB+512*MiB))
}
