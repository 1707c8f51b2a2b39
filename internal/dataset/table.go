package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/opensource-finance/scamscore/internal/domain"
)

// Row is one generated transaction with its label.
type Row struct {
	Features domain.FeatureVector
	IsScam   int

	// Stratum and UserID are bookkeeping only; they never reach training.
	Stratum Stratum
	UserID  string
}

// Table is a generated population of labeled rows.
type Table struct {
	Rows []Row
}

// Columns returns the feature columns of the table, without the label.
func (t *Table) Columns() []string {
	cols := make([]string, len(domain.FeatureColumns))
	copy(cols, domain.FeatureColumns)
	return cols
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Matrix returns the feature values and labels in column order.
func (t *Table) Matrix() ([][]float64, []int) {
	x := make([][]float64, len(t.Rows))
	y := make([]int, len(t.Rows))
	for i, r := range t.Rows {
		x[i] = r.Features.Values()
		y[i] = r.IsScam
	}
	return x, y
}

// StratumCounts returns the number of rows per stratum.
func (t *Table) StratumCounts() map[Stratum]int {
	counts := make(map[Stratum]int, len(Strata))
	for _, r := range t.Rows {
		counts[r.Stratum]++
	}
	return counts
}

// Positives returns the number of rows labeled as scam.
func (t *Table) Positives() int {
	n := 0
	for _, r := range t.Rows {
		n += r.IsScam
	}
	return n
}

// Split partitions the table into a training head and a held-out tail.
// Rows are already shuffled, so a prefix split is a random split.
func (t *Table) Split(testFraction float64) (train, test *Table) {
	if testFraction < 0 {
		testFraction = 0
	}
	if testFraction > 1 {
		testFraction = 1
	}
	cut := len(t.Rows) - int(float64(len(t.Rows))*testFraction)
	return &Table{Rows: t.Rows[:cut]}, &Table{Rows: t.Rows[cut:]}
}

// WriteCSV writes the table with a header of feature columns plus is_scam.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append(t.Columns(), domain.ColIsScam)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range t.Rows {
		f := r.Features
		record[0] = strconv.FormatFloat(f.Amount, 'f', -1, 64)
		record[1] = strconv.FormatFloat(f.AmountToAvgRatio, 'f', -1, 64)
		record[2] = strconv.Itoa(f.IsNewBeneficiary)
		record[3] = strconv.Itoa(f.IsNewDevice)
		record[4] = strconv.Itoa(f.TxVelocity1h)
		record[5] = strconv.Itoa(f.IsCollectRequest)
		record[6] = strconv.Itoa(r.IsScam)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
