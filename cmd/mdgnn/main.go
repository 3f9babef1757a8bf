package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tsawler/go-mdgnn/config"
	"github.com/tsawler/go-mdgnn/engine"
	"github.com/tsawler/go-mdgnn/graphio"
	"github.com/tsawler/go-mdgnn/store"
)

// options holds the command line flags
type options struct {
	configPath  string
	dataPath    string
	formatName  string
	datasetName string
	dbPath      string
	seed        int64
	outputDim   int
	train       bool
	stochastic  bool
	outPath     string
}

var errUsage = errors.New("usage")

func main() {
	// Command line flags
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file path (default: search $MDGNN_CONFIG, ./mdgnn.yaml, ~/.config/mdgnn)")
	flag.StringVar(&opts.dataPath, "data", "", "dataset file to run")
	flag.StringVar(&opts.formatName, "format", "", "dataset format: yaml or bin (default: from file extension)")
	flag.StringVar(&opts.datasetName, "dataset", "", "run a dataset already in the store instead of -data")
	flag.StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config; \"none\" disables the store)")
	flag.Int64Var(&opts.seed, "seed", -1, "parameter initialization seed (overrides config)")
	flag.IntVar(&opts.outputDim, "output-dim", 0, "predictions per node (default: target width, or 1)")
	flag.BoolVar(&opts.train, "train", false, "run a training-mode pass (dropout active)")
	flag.BoolVar(&opts.stochastic, "stochastic", false, "draw chaos noise in evaluation mode")
	flag.StringVar(&opts.outPath, "out", "-", "predictions output file (\"-\" for stdout)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := run(context.Background(), opts); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts options) error {
	// Load configuration
	var (
		cfg    *config.Config
		cfgSrc string
		err    error
	)
	if opts.configPath != "" {
		cfg, cfgSrc, err = config.LoadFromPath(opts.configPath)
	} else {
		cfg, cfgSrc, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfgSrc == "" {
		cfgSrc = "defaults"
	}
	if opts.seed >= 0 {
		cfg.Model.Seed = opts.seed
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (%s): %w", cfgSrc, err)
	}
	log.Printf("Config loaded from %s", cfgSrc)

	// Open the store
	var db *store.Store
	if cfg.Database.Path != "none" {
		db, err = store.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		log.Printf("Database opened: %s (journal mode %s)", cfg.Database.Path, db.JournalMode())
	}

	dataset, err := loadDataset(ctx, opts, db)
	if err != nil {
		return err
	}
	log.Printf("Dataset %q: %s, %d features per node", dataset.Name, dataset.Graph, dataset.FeatureDim())

	// Build the model
	outDim := opts.outputDim
	if outDim <= 0 {
		outDim = 1
		if dataset.Targets != nil {
			outDim = dataset.Targets.RowWidth()
		}
	}
	spec, err := cfg.ModelSpec(dataset.FeatureDim(), outDim)
	if err != nil {
		return fmt.Errorf("failed to build model spec: %w", err)
	}
	model, err := engine.NewStackedModel(spec, cfg.Model.Seed)
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	log.Printf("Model built: %d layers, %s parameters", len(spec.Layers), humanize.Comma(spec.TotalParameters))

	// Run the forward pass
	guard, err := cfg.Guard()
	if err != nil {
		return fmt.Errorf("invalid graph guard: %w", err)
	}
	ie, err := engine.NewInferenceEngine(model, engine.InferenceConfig{
		Guard:      guard,
		Stochastic: opts.stochastic,
		Seed:       cfg.Model.Seed,
		Training:   opts.train,
	})
	if err != nil {
		return fmt.Errorf("failed to create inference engine: %w", err)
	}
	result, err := ie.Predict(dataset.Graph, dataset.Features)
	if err != nil {
		return fmt.Errorf("forward pass failed: %w", err)
	}
	log.Printf("%s pass over %d nodes (%d edges after %s guard) in %v",
		result.Mode, result.NumNodes, result.NumEdges, guard, result.Duration.Round(time.Microsecond))

	if dataset.Targets != nil {
		metrics, err := engine.EvaluateRegression(result.Predictions, dataset.Targets)
		if err != nil {
			log.Printf("Skipping evaluation: %v", err)
		} else {
			log.Printf("Against targets: %s", metrics)
		}
	}

	// Record the run
	runID := ""
	if db != nil {
		rec := store.NewRun(dataset.Name, cfg.Summary(), result.Mode.String(), result.Predictions, result.Duration)
		if err := db.SaveRun(ctx, rec); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		runID = rec.ID
		log.Printf("Run recorded: %s", runID)
	}

	return writePredictions(opts.outPath, dataset.Name, runID, result)
}

// loadDataset reads the dataset named in the store or the -data file. File
// datasets are saved to the store when one is open.
func loadDataset(ctx context.Context, opts options, db *store.Store) (*graphio.Dataset, error) {
	switch {
	case opts.datasetName != "":
		if db == nil {
			return nil, fmt.Errorf("-dataset requires a database")
		}
		dataset, err := db.LoadDataset(ctx, opts.datasetName)
		if err != nil {
			return nil, fmt.Errorf("failed to load dataset: %w", err)
		}
		return dataset, nil
	case opts.dataPath != "":
		name := opts.formatName
		if name == "" {
			name = filepath.Ext(opts.dataPath)
		}
		format, err := graphio.ParseFormat(name)
		if err != nil {
			return nil, fmt.Errorf("invalid dataset format: %w", err)
		}
		dataset, err := graphio.LoadFile(opts.dataPath, format)
		if err != nil {
			return nil, fmt.Errorf("failed to load dataset: %w", err)
		}
		if dataset.Name == "" {
			base := filepath.Base(opts.dataPath)
			dataset.Name = base[:len(base)-len(filepath.Ext(base))]
		}
		if db != nil {
			if err := db.SaveDataset(ctx, dataset); err != nil {
				return nil, fmt.Errorf("failed to store dataset: %w", err)
			}
		}
		return dataset, nil
	default:
		return nil, errUsage
	}
}

func writePredictions(path, dataset, runID string, result *engine.InferenceResult) error {
	if path == "-" {
		return graphio.ExportPredictions(os.Stdout, dataset, runID, result.Predictions)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := graphio.ExportPredictions(f, dataset, runID, result.Predictions); err != nil {
		f.Close()
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	return f.Close()
}
