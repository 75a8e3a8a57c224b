package net

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestCSVLoader(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "windows.csv")
	require.NoError(t, os.WriteFile(filename, []byte("t0,t1,t2\n1.0,2.0,3.0\n4.0,5.0,6.0\n"), 0o644))

	dataset, err := LoadCSV(filename, true)
	require.NoError(t, err)

	assert.Equal(t, 2, dataset.Len())
	assert.Equal(t, 3, dataset.Dim())
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, dataset.Samples)
}

func TestCSVLoaderErrors(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), false)
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader(""), false)
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("a,b\n"), true)
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("1,2\n3,x\n"), false)
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("1,2\n3\n"), false)
	assert.Error(t, err)
}

func TestDatasetNormalization(t *testing.T) {
	dataset := &Dataset{
		Samples: [][]float64{
			{10, 0, 7},
			{20, 5, 7},
			{30, 10, 7},
		},
	}

	dataset.Normalize()

	expected := [][]float64{
		{0.0, 0.0, 0},
		{0.5, 0.5, 0},
		{1.0, 1.0, 0},
	}
	assert.Equal(t, expected, dataset.Samples)

	m := mat.NewDense(1, 3, []float64{0.5, 1, 0})
	dataset.Denormalize(m)
	assert.Equal(t, []float64{20, 10, 7}, m.RawRowView(0))
}

func TestDatasetNormalizeWithTrainingBounds(t *testing.T) {
	train := &Dataset{Samples: [][]float64{{0, 10}, {4, 20}}}
	train.Normalize()
	lo, hi := train.Bounds()
	assert.Equal(t, []float64{0, 10}, lo)
	assert.Equal(t, []float64{4, 20}, hi)

	other := &Dataset{Samples: [][]float64{{2, 25}}}
	require.NoError(t, other.NormalizeWith(lo, hi))
	assert.Equal(t, [][]float64{{0.5, 1.5}}, other.Samples)

	m := mat.NewDense(1, 2, []float64{0.25, 0})
	other.Denormalize(m)
	assert.Equal(t, []float64{1, 10}, m.RawRowView(0))

	assert.Error(t, other.NormalizeWith([]float64{0}, []float64{1}))
	lo[0] = 99
	min, _ := other.Bounds()
	assert.Equal(t, 0.0, min[0], "bounds are copied")
}

func TestDatasetSplit(t *testing.T) {
	d := &Dataset{Samples: [][]float64{{1}, {2}, {3}, {4}, {5}}}

	train, test := d.Split(0.8)
	assert.Equal(t, 4, train.Len())
	assert.Equal(t, [][]float64{{5}}, test.Samples)

	train, test = d.Split(0)
	assert.Equal(t, 0, train.Len())
	assert.Equal(t, 5, test.Len())

	train, test = d.Split(1)
	assert.Equal(t, 5, train.Len())
	assert.Equal(t, 0, test.Len())
}

func TestWindows(t *testing.T) {
	d, err := Windows([]float64{0, 1, 2, 3, 4, 5, 6}, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 1, 2}, {2, 3, 4}, {4, 5, 6}}, d.Samples)

	_, err = Windows([]float64{1, 2}, 3, 1)
	assert.Error(t, err)
	_, err = Windows([]float64{1, 2, 3}, 0, 1)
	assert.Error(t, err)
}

func TestDatasetMatrixAndVariance(t *testing.T) {
	d := &Dataset{Samples: [][]float64{{1, 2}, {3, 4}}}
	m := d.Matrix()
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, []float64{3, 4}, m.RawRowView(1))

	// values 1..4: mean 2.5, population variance 1.25
	assert.InDelta(t, 1.25, Variance(m), 1e-12)
	assert.Equal(t, 0.0, Variance(&mat.Dense{}))
	assert.True(t, (&Dataset{}).Matrix().IsEmpty())
}

func TestDatasetWriteCSV(t *testing.T) {
	d := &Dataset{Samples: [][]float64{{1.5, -2}, {0.25, 3}}}

	var buf bytes.Buffer
	require.NoError(t, d.WriteCSV(&buf))
	assert.Equal(t, "t0,t1\n1.5,-2\n0.25,3\n", buf.String())

	back, err := ReadCSV(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, d.Samples, back.Samples)
}
