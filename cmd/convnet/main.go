// Command convnet trains a convolutional classifier on CIFAR-10.
//
// The dataset is expected in its binary form (data_batch_1.bin through
// data_batch_5.bin plus test_batch.bin). Run with -synthetic to train on
// generated patterns without any data files.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/convnet/internal/config"
	"github.com/born-ml/convnet/internal/dataset"
	"github.com/born-ml/convnet/internal/engine"
	"github.com/born-ml/convnet/internal/model"
	"github.com/born-ml/convnet/internal/track"
	"github.com/born-ml/convnet/internal/train"
	"github.com/born-ml/convnet/internal/viz"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	norm := flag.Bool("norm", false, "Enable batch normalization")
	dropout := flag.Float64("dropout", 0, "Dropout probability")
	jitter := flag.Float64("jitter", 0, "Color jitter strength")
	augment := flag.Int("augment", 0, "Number of augmentation transforms")
	disp := flag.Bool("disp", false, "Print per-parameter shapes")
	eStop := flag.Bool("e-stop", false, "Enable early stopping")
	comment := flag.String("comment", "", "Run comment for the tracker")
	dataDir := flag.String("data", "", "CIFAR-10 binary data directory")
	device := flag.String("device", "", "Compute device: cpu or gpu")
	synthetic := flag.Bool("synthetic", false, "Train on generated patterns")
	seed := flag.Int64("seed", 0, "Random seed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Explicit flags win over file and environment values.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "epochs":
			cfg.Epochs = *epochs
		case "norm":
			cfg.Norm = *norm
		case "dropout":
			cfg.Dropout = *dropout
		case "jitter":
			cfg.Jitter = *jitter
		case "augment":
			cfg.Augment = *augment
		case "disp":
			cfg.Display = *disp
		case "e-stop":
			cfg.EarlyStop = *eStop
		case "comment":
			cfg.Comment = *comment
		case "data":
			cfg.DataDir = *dataDir
		case "device":
			cfg.Device = *device
		case "synthetic":
			cfg.Synthetic = *synthetic
		case "seed":
			cfg.Seed = *seed
		}
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	switch cfg.Device {
	case "cpu":
		err = run(cpu.New(), cfg)
	case "gpu":
		err = runGPU(cfg)
	}
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
}

func newRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

func run[B tensor.Backend](base B, cfg config.Config) error {
	backend := autodiff.New(base)

	trainData, valData, testData, err := loadData(cfg)
	if err != nil {
		return err
	}
	log.Printf("train: %d samples, val: %d samples, test: %d samples",
		trainData.NumSamples(), valData.NumSamples(), testData.NumSamples())

	rng := newRNG(cfg.Seed)
	transforms := dataset.Pipeline(cfg.Augment, cfg.Jitter)

	trainBatches, err := dataset.CreateBatches(trainData, cfg.BatchSize, true, transforms, rng, backend)
	if err != nil {
		return fmt.Errorf("failed to create train batches: %w", err)
	}
	valBatches, err := dataset.CreateBatches(valData, cfg.BatchSize, false, nil, rng, backend)
	if err != nil {
		return fmt.Errorf("failed to create val batches: %w", err)
	}
	testBatches, err := dataset.CreateBatches(testData, cfg.BatchSize, false, nil, rng, backend)
	if err != nil {
		return fmt.Errorf("failed to create test batches: %w", err)
	}

	specs := model.Layers(dataset.Channels, cfg.Hidden, dataset.NumClasses, cfg.Norm, cfg.Dropout)
	net := model.Build(specs, cfg.Seed, backend)
	model.InitLinearNormal(net, 1e-3, cfg.Seed)

	fmt.Println(net)
	fmt.Printf("trainable parameters: %d\n", model.NumParameters(net))
	if cfg.Display {
		for _, p := range net.Parameters() {
			fmt.Printf("  %s %v\n", p.Name(), p.Tensor().Shape())
		}
	}

	runLog, err := track.Start(cfg.RunDir, cfg.Comment, map[string]any{
		"epochs":        cfg.Epochs,
		"batch_size":    cfg.BatchSize,
		"learning_rate": cfg.LearningRate,
		"lr_decay":      cfg.LRDecay,
		"weight_decay":  cfg.WeightDecay,
		"hidden":        cfg.Hidden,
		"norm":          cfg.Norm,
		"dropout":       cfg.Dropout,
		"jitter":        cfg.Jitter,
		"augment":       cfg.Augment,
		"early_stop":    cfg.EarlyStop,
		"device":        cfg.Device,
		"seed":          cfg.Seed,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = runLog.Close()
	}()
	log.Printf("run id: %s", runLog.ID())

	if err := saveFilters(net, cfg.RunDir, runLog.ID(), "before"); err != nil {
		return err
	}

	optimizer := optim.NewAdam(
		net.Parameters(),
		optim.AdamConfig{LR: float32(cfg.LearningRate)},
		backend,
	)
	eng := engine.New(backend, net, optimizer, cfg.WeightDecay)

	store, err := engine.NewStore(cfg.CheckpointDir, runLog.ID(), cfg.Epochs, backend, net)
	if err != nil {
		return err
	}

	loop := &train.Loop{
		Config: train.Config{
			Epochs:    cfg.Epochs,
			LRDecay:   cfg.LRDecay,
			EarlyStop: cfg.EarlyStop,
			LogEvery:  cfg.LogEvery,
		},
		Model:        eng,
		Criterion:    eng,
		Optim:        eng,
		Ckpt:         store,
		Track:        runLog,
		TrainBatches: asBatches(trainBatches),
		ValBatches:   asBatches(valBatches),
		TestBatches:  asBatches(testBatches),
	}
	if _, err := loop.Run(); err != nil {
		return err
	}

	return saveFilters(net, cfg.RunDir, runLog.ID(), "after")
}

// loadData loads the train/val/test splits, either from CIFAR-10 binary
// files or generated patterns.
func loadData(cfg config.Config) (*dataset.Data, *dataset.Data, *dataset.Data, error) {
	if cfg.Synthetic {
		full := dataset.Synthetic(cfg.NumTraining+cfg.NumValidation, cfg.Seed)
		trainData, valData, err := full.Split(cfg.NumTraining, cfg.NumValidation)
		if err != nil {
			return nil, nil, nil, err
		}
		testData := dataset.Synthetic(1000, cfg.Seed+1)
		return trainData, valData, testData, nil
	}

	full, err := dataset.LoadCIFAR10(cfg.DataDir, true)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load training data: %w", err)
	}
	trainData, valData, err := full.Split(cfg.NumTraining, cfg.NumValidation)
	if err != nil {
		return nil, nil, nil, err
	}
	testData, err := dataset.LoadCIFAR10(cfg.DataDir, false)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load test data: %w", err)
	}
	return trainData, valData, testData, nil
}

// saveFilters renders the first conv layer's filters to a PNG in the run
// directory.
func saveFilters[B tensor.Backend](net *model.Net[B], dir, runID, stage string) error {
	conv := net.FirstConv()
	if conv == nil {
		return nil
	}
	weight := conv.Parameters()[0].Tensor()
	shape := weight.Shape()
	img, err := viz.FilterGrid(weight.Raw().AsFloat32(), shape[0], shape[1], shape[2], 16)
	if err != nil {
		return fmt.Errorf("failed to render filters: %w", err)
	}
	path := fmt.Sprintf("%s/%s_filters_%s.png", dir, runID, stage)
	return viz.SavePNG(img, path)
}

func asBatches[B tensor.Backend](batches []*dataset.Batch[B]) []train.Batch {
	out := make([]train.Batch, len(batches))
	for i, b := range batches {
		out[i] = b
	}
	return out
}
