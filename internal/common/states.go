package common

import (
	"encoding/json"
)

func getStateMapping() []string {
	return []string{
		"IDLE",
		"VALIDATED",
		"TABLE_CREATED",
		"PARTITIONS_FORMATTED",
		"IMAGE_WRITTEN",
		"PERSISTENCE_BUILT",
		"BOOTLOADER_CONFIGURED",
		"VERIFIED",
		"DONE",
		"FAILED",
	}
}

// FlashState tracks how far a flash pipeline has progressed. Each
// destructive step advances the state exactly once; a failure freezes the
// pipeline in FSFailed with the last good state recorded in the report.
type FlashState int

const (
	FSIdle FlashState = iota
	FSValidated
	FSTableCreated
	FSPartitionsFormatted
	FSImageWritten
	FSPersistenceBuilt
	FSBootloaderConfigured
	FSVerified
	FSDone
	FSFailed
)

// CustomJsonConversionError is thrown when parsing strings into enumerations
type CustomJsonConversionError struct {
	reason string
}

// Error returns the error as a string
func (err *CustomJsonConversionError) Error() string {
	return err.reason
}

// ToString converts FlashState into a human readable string
func (fs FlashState) ToString() string {
	return getStateMapping()[int(fs)]
}

func unmarshalStateHelper(data []byte, mapping []string) (int, error) {
	var stringInput string
	err := json.Unmarshal(data, &stringInput)
	if err != nil {
		return 0, err
	}
	for n, str := range mapping {
		if str == stringInput {
			return n, nil
		}
	}
	return 0, &CustomJsonConversionError{"invalid flash state: " + stringInput}
}

// UnmarshalJSON converts a JSON string into a FlashState
func (fs *FlashState) UnmarshalJSON(data []byte) error {
	val, err := unmarshalStateHelper(data, getStateMapping())
	if err != nil {
		return err
	}
	*fs = FlashState(val)
	return nil
}

func (fs FlashState) MarshalJSON() ([]byte, error) {
	return json.Marshal(getStateMapping()[fs])
}
