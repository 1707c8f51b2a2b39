// Train builds the scam classifier from a synthetic population.
//
// Usage:
//
//	go run ./cmd/train -seed 42 -out ./artifacts
//
// This tool:
//  1. Creates a seeded population of user profiles
//  2. Generates the four-stratum labelled dataset
//  3. Trains a gradient-boosted tree ensemble on the training split
//  4. Reports held-out metrics and writes model.json + columns.json
//  5. Optionally registers the model in the repository
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opensource-finance/scamscore/internal/config"
	"github.com/opensource-finance/scamscore/internal/dataset"
	"github.com/opensource-finance/scamscore/internal/domain"
	"github.com/opensource-finance/scamscore/internal/model"
	"github.com/opensource-finance/scamscore/internal/profile"
	"github.com/opensource-finance/scamscore/internal/repository"
)

func main() {
	defaults := model.DefaultTrainOptions()

	seed := flag.Uint64("seed", 42, "Random seed (0 = non-deterministic)")
	users := flag.Int("users", 2000, "Number of user profiles")
	n := flag.Int("n", 150000, "Number of generated transactions")
	testSplit := flag.Float64("test-split", 0.2, "Held-out fraction")
	outDir := flag.String("out", "./artifacts", "Directory for model.json and columns.json")
	csvPath := flag.String("csv", "", "Also write the generated dataset to this CSV file")
	trees := flag.Int("trees", defaults.Trees, "Number of boosting rounds")
	lr := flag.Float64("lr", defaults.LearningRate, "Learning rate")
	depth := flag.Int("depth", defaults.MaxDepth, "Maximum tree depth")
	version := flag.String("version", "", "Model version (default: timestamped)")
	register := flag.Bool("register", false, "Register the model in the configured repository")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*seed, *users, *n, *testSplit, *outDir, *csvPath, *register, model.TrainOptions{
		Trees:        *trees,
		LearningRate: *lr,
		MaxDepth:     *depth,
		MinLeaf:      defaults.MinLeaf,
		Lambda:       defaults.Lambda,
		Bins:         defaults.Bins,
		Balance:      defaults.Balance,
		Version:      *version,
	}); err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
}

func run(seed uint64, users, n int, testSplit float64, outDir, csvPath string, register bool, opts model.TrainOptions) error {
	src := profile.NewSource(seed)

	population := profile.CreatePopulation(src, users)
	slog.Info("population created", "users", len(population), "seed", seed)

	table, err := dataset.NewGenerator(src).Generate(population, n)
	if err != nil {
		return err
	}
	slog.Info("dataset generated",
		"rows", table.Len(),
		"positives", table.Positives(),
		"strata", table.StratumCounts(),
	)

	if csvPath != "" {
		if err := writeCSV(csvPath, table); err != nil {
			return err
		}
		slog.Info("dataset written", "path", csvPath)
	}

	train, test := table.Split(testSplit)
	columns := train.Columns()

	x, y := train.Matrix()
	artifact, err := model.Train(x, y, columns, opts)
	if err != nil {
		return err
	}
	slog.Info("model trained",
		"version", artifact.Version,
		"trees", len(artifact.Trees),
		"train_rows", train.Len(),
	)

	m, err := model.FromArtifact(artifact, columns)
	if err != nil {
		return err
	}

	if test.Len() > 0 {
		tx, ty := test.Matrix()
		metrics, err := model.Evaluate(m.Scorer, columns, tx, ty)
		if err != nil {
			return err
		}
		artifact.Metrics = metrics
		printMetrics(metrics)
	}

	modelPath, columnsPath, err := model.Save(outDir, artifact, columns)
	if err != nil {
		return err
	}
	slog.Info("artifacts saved", "model", modelPath, "columns", columnsPath)

	if register {
		return registerModel(artifact, columns)
	}
	return nil
}

func writeCSV(path string, table *dataset.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := table.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func registerModel(artifact *model.Artifact, columns []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	name := cfg.Model.Name
	if name == "" {
		name = domain.DefaultModelName
	}

	rec, err := model.Record(name, artifact, columns)
	if err != nil {
		return err
	}
	if err := repo.SaveModelRecord(context.Background(), rec); err != nil {
		return err
	}

	slog.Info("model registered",
		"name", rec.Name,
		"version", rec.Version,
		"driver", cfg.Repository.Driver,
	)
	return nil
}

func printMetrics(m *model.Metrics) {
	c := m.Confusion
	fmt.Println()
	fmt.Println("  Held-out evaluation")
	fmt.Printf("    Samples:    %d (%d scams)\n", m.Samples, m.Positives)
	fmt.Println()
	fmt.Println("                  Predicted")
	fmt.Println("                  scam      legit")
	fmt.Printf("    Actual scam   %8d  %8d\n", c.TP, c.FN)
	fmt.Printf("           legit  %8d  %8d\n", c.FP, c.TN)
	fmt.Println()
	fmt.Printf("    Accuracy:   %.4f\n", m.Accuracy)
	fmt.Printf("    Precision:  %.4f\n", m.Precision)
	fmt.Printf("    Recall:     %.4f\n", m.Recall)
	fmt.Printf("    F1:         %.4f\n", m.F1)
	fmt.Printf("    ROC AUC:    %.4f\n", m.AUC)
	fmt.Printf("    Tiers:      LOW=%d MEDIUM=%d HIGH=%d\n",
		m.Tiers[domain.RiskLow], m.Tiers[domain.RiskMedium], m.Tiers[domain.RiskHigh])
	fmt.Println()
}
