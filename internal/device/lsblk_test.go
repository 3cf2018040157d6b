package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	output []byte
	err    error
	calls  [][]string
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.output, r.err
}

const lsblkFixture = `NAME="sda" SIZE="512110190592" VENDOR="ATA     " MODEL="Samsung SSD 860" RM="0" TYPE="disk"
NAME="sdb" SIZE="15518924800" VENDOR="SanDisk " MODEL="Ultra Fit" RM="1" TYPE="disk"
NAME="sdb1" SIZE="15518900000" VENDOR="" MODEL="" RM="1" TYPE="part"
NAME="mmcblk0" SIZE="31268536320" VENDOR="" MODEL="SD32G" RM="1" TYPE="disk"
NAME="sr0" SIZE="1073741312" VENDOR="QEMU    " MODEL="QEMU DVD-ROM" RM="1" TYPE="rom"
`

func TestListerParsesRemovableDisks(t *testing.T) {
	runner := &fakeRunner{output: []byte(lsblkFixture)}
	lister := &Lister{Runner: runner}

	devices, err := lister.List(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, Info{
		Path:      "/dev/sdb",
		SizeBytes: 15518924800,
		Vendor:    "SanDisk",
		Model:     "Ultra Fit",
		Removable: true,
	}, devices[0])
	assert.Equal(t, "/dev/mmcblk0", devices[1].Path)
}

func TestListerIgnorePatterns(t *testing.T) {
	runner := &fakeRunner{output: []byte(lsblkFixture)}
	lister := &Lister{Runner: runner, Ignore: []string{"/dev/mmcblk*"}}

	devices, err := lister.List(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/sdb", devices[0].Path)
}

func TestListerBadIgnorePattern(t *testing.T) {
	runner := &fakeRunner{output: []byte(lsblkFixture)}
	lister := &Lister{Runner: runner, Ignore: []string{"[unclosed"}}

	_, err := lister.List(context.Background())
	assert.Error(t, err)
}

func TestParseLsblkPairsQuotedModel(t *testing.T) {
	info, devType, err := parseLsblkPairs(`NAME="sdc" SIZE="1000204886016" VENDOR="WD" MODEL="My Passport 25E2" RM="1" TYPE="disk"`)
	require.NoError(t, err)
	assert.Equal(t, "disk", devType)
	assert.Equal(t, "My Passport 25E2", info.Model)
}
