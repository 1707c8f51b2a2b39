package domain

// Canonical feature column names. Training data and live inference share them.
const (
	ColAmount           = "amount"
	ColAmountToAvgRatio = "amount_to_avg_ratio"
	ColIsNewBeneficiary = "is_new_beneficiary"
	ColIsNewDevice      = "is_new_device"
	ColTxVelocity1h     = "tx_velocity_1h"
	ColIsCollectRequest = "is_collect_request"

	// ColIsScam is the label column; it only exists in generated data.
	ColIsScam = "is_scam"
)

// FeatureColumns is the canonical column order of a FeatureVector.
var FeatureColumns = []string{
	ColAmount,
	ColAmountToAvgRatio,
	ColIsNewBeneficiary,
	ColIsNewDevice,
	ColTxVelocity1h,
	ColIsCollectRequest,
}

// FeatureVector is the fixed-schema numeric representation of a transaction.
type FeatureVector struct {
	Amount           float64 `json:"amount"`
	AmountToAvgRatio float64 `json:"amount_to_avg_ratio"`
	IsNewBeneficiary int     `json:"is_new_beneficiary"`
	IsNewDevice      int     `json:"is_new_device"`
	TxVelocity1h     int     `json:"tx_velocity_1h"`
	IsCollectRequest int     `json:"is_collect_request"`
}

// Values returns the vector in FeatureColumns order.
func (v FeatureVector) Values() []float64 {
	return []float64{
		v.Amount,
		v.AmountToAvgRatio,
		float64(v.IsNewBeneficiary),
		float64(v.IsNewDevice),
		float64(v.TxVelocity1h),
		float64(v.IsCollectRequest),
	}
}

// Row converts the vector into a named row in canonical order.
func (v FeatureVector) Row() FeatureRow {
	cols := make([]string, len(FeatureColumns))
	copy(cols, FeatureColumns)
	return FeatureRow{Columns: cols, Values: v.Values()}
}

// FeatureRow is a named, ordered row of feature values as handed to a Scorer.
type FeatureRow struct {
	Columns []string  `json:"columns"`
	Values  []float64 `json:"values"`
}

// BoolFlag converts a boolean into the 0/1 encoding used by the schema.
func BoolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
