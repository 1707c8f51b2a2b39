package features

import "github.com/opensource-finance/scamscore/internal/domain"

// Align reindexes row against the trained column list. Columns missing from
// row are filled with 0 and columns unknown to the model are dropped, so the
// result always has exactly len(columns) values in training order.
func Align(row domain.FeatureRow, columns []string) domain.FeatureRow {
	index := make(map[string]int, len(row.Columns))
	for i, c := range row.Columns {
		if i >= len(row.Values) {
			break
		}
		if _, dup := index[c]; !dup {
			index[c] = i
		}
	}

	out := domain.FeatureRow{
		Columns: make([]string, len(columns)),
		Values:  make([]float64, len(columns)),
	}
	copy(out.Columns, columns)
	for i, c := range columns {
		if j, ok := index[c]; ok {
			out.Values[i] = row.Values[j]
		}
	}
	return out
}
