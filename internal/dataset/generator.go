// Package dataset synthesizes labeled transaction populations for training.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/profile"
)

// ErrEmptyPopulation is returned when rows are requested without any actor.
var ErrEmptyPopulation = errors.New("dataset: user population is empty")

// Stratum identifies the generation policy that produced a row.
type Stratum string

const (
	StratumLegitimate     Stratum = "legitimate"
	StratumFraud          Stratum = "fraud"
	StratumGreyLegitimate Stratum = "grey_legitimate"
	StratumGreyScam       Stratum = "grey_scam"
)

// Strata lists every stratum in generation order.
var Strata = []Stratum{StratumLegitimate, StratumFraud, StratumGreyLegitimate, StratumGreyScam}

// stratumShare is the share of N per stratum, in percent.
var stratumShare = map[Stratum]int{
	StratumLegitimate:     85,
	StratumFraud:          5,
	StratumGreyLegitimate: 5,
	StratumGreyScam:       5,
}

// Fixed amounts favoured by fraudsters (just under round limits).
var fraudRoundAmounts = [...]float64{4999, 9999}

// StratumSize is the number of rows a stratum receives out of n (floor).
func StratumSize(s Stratum, n int) int {
	return n * stratumShare[s] / 100
}

// policy holds the fixed per-stratum draw parameters. A probability of 1
// or 0 makes the flag constant for the stratum.
type policy struct {
	newBeneficiary float64
	newDevice      float64
	collect        float64
	velocityLo     int
	velocityHi     int
	label          int
}

var policies = map[Stratum]policy{
	StratumLegitimate:     {newBeneficiary: 0.2, newDevice: 0.05, velocityLo: 1, velocityHi: 4},
	StratumFraud:          {newBeneficiary: 1, newDevice: 0.7, collect: 0.8, velocityLo: 5, velocityHi: 15, label: 1},
	StratumGreyLegitimate: {newBeneficiary: 1, newDevice: 0.2, velocityLo: 1, velocityHi: 3},
	StratumGreyScam:       {newBeneficiary: 1, collect: 1, velocityLo: 1, velocityHi: 3, label: 1},
}

// flagDraws are a stratum's Bernoulli flags bound to the generator source.
type flagDraws struct {
	newBeneficiary distuv.Bernoulli
	newDevice      distuv.Bernoulli
	collect        distuv.Bernoulli
}

// Generator produces labeled, stratified transaction rows.
// A Generator is not safe for concurrent use.
type Generator struct {
	src   rand.Source
	rng   *rand.Rand
	flags map[Stratum]flagDraws
}

// NewGenerator creates a generator drawing every value from src.
func NewGenerator(src rand.Source) *Generator {
	flags := make(map[Stratum]flagDraws, len(policies))
	for s, p := range policies {
		flags[s] = flagDraws{
			newBeneficiary: distuv.Bernoulli{P: p.newBeneficiary, Src: src},
			newDevice:      distuv.Bernoulli{P: p.newDevice, Src: src},
			collect:        distuv.Bernoulli{P: p.collect, Src: src},
		}
	}
	return &Generator{src: src, rng: rand.New(src), flags: flags}
}

// Generate synthesizes n rows across the four strata and shuffles them.
func (g *Generator) Generate(users []profile.UserProfile, n int) (*Table, error) {
	if n < 0 {
		return nil, fmt.Errorf("dataset: row count must be non-negative, got %d", n)
	}
	if len(users) == 0 {
		return nil, ErrEmptyPopulation
	}

	total := 0
	for _, s := range Strata {
		total += StratumSize(s, n)
	}
	rows := make([]Row, 0, total)

	for _, s := range Strata {
		for i := StratumSize(s, n); i > 0; i-- {
			user := users[g.rng.IntN(len(users))]
			rows = append(rows, g.row(s, user))
		}
	}

	g.rng.Shuffle(len(rows), func(i, j int) {
		rows[i], rows[j] = rows[j], rows[i]
	})

	return &Table{Rows: rows}, nil
}

func (g *Generator) row(s Stratum, u profile.UserProfile) Row {
	p := policies[s]
	flags := g.flags[s]

	f := domain.FeatureVector{
		IsNewBeneficiary: int(flags.newBeneficiary.Rand()),
		IsNewDevice:      int(flags.newDevice.Rand()),
		IsCollectRequest: int(flags.collect.Rand()),
		TxVelocity1h:     p.velocityLo + g.rng.IntN(p.velocityHi-p.velocityLo+1),
	}

	switch s {
	case StratumLegitimate:
		f.Amount = g.normal(u.AvgTx, u.StdDevTx)
	case StratumFraud:
		if k := g.rng.IntN(len(fraudRoundAmounts) + 1); k < len(fraudRoundAmounts) {
			f.Amount = fraudRoundAmounts[k]
		} else {
			f.Amount = u.MaxTx * g.uniform(0.8, 0.99)
		}
	case StratumGreyLegitimate:
		f.Amount = u.MaxTx * g.uniform(0.5, 0.9)
	case StratumGreyScam:
		f.Amount = g.normal(u.AvgTx, u.StdDevTx*0.1)
	}
	f.Amount = math.Abs(f.Amount)
	f.AmountToAvgRatio = Ratio(f.Amount, u.AvgTx)

	return Row{Features: f, IsScam: p.label, Stratum: s, UserID: u.UserID}
}

// Ratio divides amount by a baseline, yielding 0 for a non-positive baseline.
func Ratio(amount, avg float64) float64 {
	if avg <= 0 {
		return 0
	}
	return amount / avg
}

func (g *Generator) normal(mean, stddev float64) float64 {
	return distuv.Normal{Mu: mean, Sigma: stddev, Src: g.src}.Rand()
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return distuv.Uniform{Min: lo, Max: hi, Src: g.src}.Rand()
}
