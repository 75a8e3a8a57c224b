package net

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Dataset is a set of equally sized windows of a signal, one sample per row.
// An autoencoder reconstructs its input, so there are no labels.
type Dataset struct {
	Samples [][]float64

	// Per-feature bounds recorded by Normalize, used by Denormalize.
	min, max []float64
}

// LoadCSV loads a dataset with one window per line.
// hasHeader skips the first line if true.
func LoadCSV(filename string, hasHeader bool) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()
	return ReadCSV(file, hasHeader)
}

// ReadCSV parses a dataset from r. See LoadCSV.
func ReadCSV(r io.Reader, hasHeader bool) (*Dataset, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv")
	}

	if len(records) == 0 {
		return nil, errors.New("csv file is empty")
	}

	startRow := 0
	if hasHeader {
		startRow = 1
	}

	if len(records) <= startRow {
		return nil, errors.New("csv file has no data rows")
	}

	numCols := len(records[startRow])
	samples := make([][]float64, 0, len(records)-startRow)
	for i := startRow; i < len(records); i++ {
		record := records[i]
		if len(record) != numCols {
			return nil, errors.Newf("inconsistent number of columns at row %d", i)
		}

		row := make([]float64, numCols)
		for j, valStr := range record {
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse value at row %d, col %d", i, j)
			}
			row[j] = val
		}
		samples = append(samples, row)
	}

	return &Dataset{Samples: samples}, nil
}

// Windows cuts a single trace into windows of the given size, starting a new
// window every stride steps. A trailing partial window is dropped.
func Windows(trace []float64, size, stride int) (*Dataset, error) {
	if size <= 0 || stride <= 0 {
		return nil, errors.Newf("window size and stride must be positive, got %d and %d", size, stride)
	}
	d := &Dataset{}
	for start := 0; start+size <= len(trace); start += stride {
		d.Samples = append(d.Samples, append([]float64(nil), trace[start:start+size]...))
	}
	if len(d.Samples) == 0 {
		return nil, errors.Newf("trace of %d steps is shorter than one window of %d", len(trace), size)
	}
	return d, nil
}

// WriteCSV writes the samples to w with a header of step indices.
func (d *Dataset) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	header := make([]string, d.Dim())
	for i := range header {
		header[i] = "t" + strconv.Itoa(i)
	}
	if err := writer.Write(header); err != nil {
		return errors.Wrap(err, "writing header")
	}
	record := make([]string, d.Dim())
	for _, s := range d.Samples {
		for i, v := range s {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, "writing record")
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flushing csv")
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Samples)
}

// Dim returns the sample width, or 0 for an empty dataset.
func (d *Dataset) Dim() int {
	if len(d.Samples) == 0 {
		return 0
	}
	return len(d.Samples[0])
}

// Normalize performs min-max normalization on the samples.
func (d *Dataset) Normalize() {
	if len(d.Samples) == 0 {
		return
	}

	numFeatures := len(d.Samples[0])
	min := make([]float64, numFeatures)
	max := make([]float64, numFeatures)

	copy(min, d.Samples[0])
	copy(max, d.Samples[0])

	for _, sample := range d.Samples {
		for i, val := range sample {
			if val < min[i] {
				min[i] = val
			}
			if val > max[i] {
				max[i] = val
			}
		}
	}

	d.scale(min, max)
}

// NormalizeWith min-max normalizes the samples with bounds recorded
// elsewhere, typically by Normalize on the training set. Values outside the
// bounds map outside [0, 1].
func (d *Dataset) NormalizeWith(min, max []float64) error {
	if len(min) != d.Dim() || len(max) != d.Dim() {
		return errors.Newf("bounds have %d and %d values, samples have %d", len(min), len(max), d.Dim())
	}
	d.scale(append([]float64(nil), min...), append([]float64(nil), max...))
	return nil
}

func (d *Dataset) scale(min, max []float64) {
	for _, sample := range d.Samples {
		for i := range sample {
			diff := max[i] - min[i]
			if diff != 0 {
				sample[i] = (sample[i] - min[i]) / diff
			} else {
				sample[i] = 0
			}
		}
	}
	d.min, d.max = min, max
}

// Bounds returns the per-feature bounds of the last normalization, or nil
// if the samples were never normalized.
func (d *Dataset) Bounds() (min, max []float64) {
	return d.min, d.max
}

// Denormalize maps normalized rows of m back to the original scale in place.
// It does nothing if Normalize was never called.
func (d *Dataset) Denormalize(m *mat.Dense) {
	if d.min == nil {
		return
	}
	m.Apply(func(_, j int, v float64) float64 {
		return v*(d.max[j]-d.min[j]) + d.min[j]
	}, m)
}

// Split splits the dataset into two based on the given ratio (0.0 to 1.0).
// Returns two new Datasets (train, test).
func (d *Dataset) Split(ratio float64) (*Dataset, *Dataset) {
	if ratio <= 0 {
		return &Dataset{}, d
	}
	if ratio >= 1 {
		return d, &Dataset{}
	}

	splitIdx := int(float64(len(d.Samples)) * ratio)

	train := &Dataset{Samples: d.Samples[:splitIdx], min: d.min, max: d.max}
	test := &Dataset{Samples: d.Samples[splitIdx:], min: d.min, max: d.max}
	return train, test
}

// Matrix copies the samples into an N×D matrix.
func (d *Dataset) Matrix() *mat.Dense {
	if len(d.Samples) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(d.Len(), d.Dim(), nil)
	for i, s := range d.Samples {
		m.SetRow(i, s)
	}
	return m
}

// Variance returns the population variance over every value of the dataset.
// It is the scale of the normalized reconstruction loss.
func Variance(m *mat.Dense) float64 {
	if m.IsEmpty() {
		return 0
	}
	r, c := m.Dims()
	values := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		values = append(values, m.RawRowView(i)...)
	}
	return stat.PopVariance(values, nil)
}
