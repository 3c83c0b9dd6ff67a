package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBatchFile writes a CIFAR-10 binary batch with the given labels.
// Pixel j of record i holds byte (i*7+j)%256.
func writeBatchFile(t *testing.T, path string, labels []byte) {
	t.Helper()

	buf := make([]byte, 0, len(labels)*recordBytes)
	for i, label := range labels {
		buf = append(buf, label)
		for j := 0; j < pixelsPerImage; j++ {
			buf = append(buf, byte((i*7+j)%256))
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestLoadCIFAR10Train(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= numTrainFiles; i++ {
		name := fmt.Sprintf("data_batch_%d.bin", i)
		writeBatchFile(t, filepath.Join(dir, name), []byte{byte(i % NumClasses), 0})
	}

	data, err := LoadCIFAR10(dir, true)
	require.NoError(t, err)

	assert.Equal(t, 2*numTrainFiles, data.NumSamples())
	assert.Equal(t, int32(1), data.Labels[0])
	assert.Len(t, data.Images[0], pixelsPerImage)

	// Byte 0 maps to -1, byte 255 maps to +1.
	assert.InDelta(t, -1.0, data.Images[0][0], 1e-6)
	assert.InDelta(t, 1.0, data.Images[0][255], 1e-6)
}

func TestLoadCIFAR10Test(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, filepath.Join(dir, testFileName), []byte{3, 7, 9})

	data, err := LoadCIFAR10(dir, false)
	require.NoError(t, err)

	assert.Equal(t, 3, data.NumSamples())
	assert.Equal(t, []int32{3, 7, 9}, data.Labels)
}

func TestLoadCIFAR10MissingDir(t *testing.T) {
	_, err := LoadCIFAR10(filepath.Join(t.TempDir(), "nope"), false)
	assert.Error(t, err)
}

func TestLoadCIFAR10TruncatedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, testFileName), make([]byte, recordBytes-1), 0o644))

	_, err := LoadCIFAR10(dir, false)
	assert.ErrorContains(t, err, "invalid file size")
}

func TestLoadCIFAR10BadLabel(t *testing.T) {
	dir := t.TempDir()
	writeBatchFile(t, filepath.Join(dir, testFileName), []byte{200})

	_, err := LoadCIFAR10(dir, false)
	assert.ErrorContains(t, err, "label out of range")
}

func TestSplit(t *testing.T) {
	data := Synthetic(100, 1)

	trainSet, valSet, err := data.Split(80, 20)
	require.NoError(t, err)

	assert.Equal(t, 80, trainSet.NumSamples())
	assert.Equal(t, 20, valSet.NumSamples())
	// Validation picks up exactly where training ends.
	assert.Equal(t, data.Labels[80], valSet.Labels[0])
}

func TestSplitErrors(t *testing.T) {
	data := Synthetic(10, 1)

	_, _, err := data.Split(0, 5)
	assert.Error(t, err)

	_, _, err = data.Split(8, 5)
	assert.Error(t, err)
}

func TestSyntheticDeterministic(t *testing.T) {
	a := Synthetic(20, 7)
	b := Synthetic(20, 7)

	require.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Images[3], b.Images[3])

	c := Synthetic(20, 8)
	assert.NotEqual(t, a.Images[3], c.Images[3])
}

func TestSyntheticLabelsCycle(t *testing.T) {
	data := Synthetic(25, 1)
	for i, label := range data.Labels {
		assert.Equal(t, int32(i%NumClasses), label)
	}
}
