// Package train implements the epoch loop for classifier training:
// per-step loss logging, per-epoch validation and learning-rate decay,
// best-checkpoint tracking, and the final capped test evaluation.
//
// The loop is expressed against small interfaces so it can run on any
// backend and be exercised in tests with fakes.
package train

import (
	"fmt"
	"log"
)

// Batch is one unit of training or evaluation work.
type Batch interface {
	// Size returns the number of examples in the batch.
	Size() int
}

// Output is an opaque forward-pass result, passed back to the Criterion.
type Output = any

// Model computes outputs from batches and can switch between training
// and evaluation behavior.
type Model interface {
	Compute(b Batch) Output
	SetTraining(training bool)
}

// Criterion scores model outputs against batch labels.
type Criterion interface {
	// Eval returns the loss for the output on the batch. In training
	// mode the implementation must retain whatever state a following
	// Optimizer.Step needs.
	Eval(output Output, b Batch) float64

	// Correct counts correct predictions among the first limit examples
	// of the batch. limit <= 0 means the whole batch.
	Correct(output Output, b Batch, limit int) int
}

// Optimizer applies one parameter update and exposes its learning rate.
type Optimizer interface {
	Step()
	LR() float64
	SetLR(lr float64)
}

// Checkpoints persists and restores model snapshots during training.
type Checkpoints interface {
	SaveBest(epoch int, accuracy float64) error
	SavePost() error
	SaveFinal() error
	RestoreBest() error
}

// Tracker receives per-epoch metrics and final summary values.
type Tracker interface {
	LogEpoch(epoch int, loss, valAccuracy float64)
	Summary(key string, value float64)
}

// Config holds the loop hyperparameters.
type Config struct {
	// Epochs is the number of passes over the training batches.
	Epochs int

	// LRDecay multiplies the learning rate after every epoch.
	LRDecay float64

	// EarlyStop enables best-checkpoint tracking and reload.
	EarlyStop bool

	// LogEvery is the training-step logging interval. Defaults to 100.
	LogEvery int

	// TestCutoff caps the number of test examples scored. Defaults to
	// 1000. Zero or negative after defaulting means no cap.
	TestCutoff int
}

// Result reports what the loop did.
type Result struct {
	// BestEpoch is the 1-based epoch of the best validation accuracy,
	// or -1 if no checkpoint was saved.
	BestEpoch int

	// BestValAccuracy is the highest validation accuracy seen.
	BestValAccuracy float64

	// TestAccuracy is the accuracy over the scored test examples.
	TestAccuracy float64

	// TestTotal is the number of test examples actually scored.
	TestTotal int

	// Reloaded reports whether the best checkpoint was restored before
	// the test evaluation.
	Reloaded bool
}

// Loop runs training over prepared batches.
type Loop struct {
	Config    Config
	Model     Model
	Criterion Criterion
	Optim     Optimizer
	Ckpt      Checkpoints
	Track     Tracker

	TrainBatches []Batch
	ValBatches   []Batch
	TestBatches  []Batch

	// Logf defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Run executes the full schedule: Epochs passes over TrainBatches with
// per-epoch validation, decay, and best-checkpoint tracking, then the
// capped test evaluation.
func (l *Loop) Run() (*Result, error) {
	if l.Logf == nil {
		l.Logf = log.Printf
	}
	logEvery := l.Config.LogEvery
	if logEvery == 0 {
		logEvery = 100
	}
	cutoff := l.Config.TestCutoff
	if cutoff == 0 {
		cutoff = 1000
	}

	result := &Result{BestEpoch: -1}
	totalSteps := len(l.TrainBatches)
	lastLoss := 0.0

	for epoch := 1; epoch <= l.Config.Epochs; epoch++ {
		l.Model.SetTraining(true)

		for step, batch := range l.TrainBatches {
			output := l.Model.Compute(batch)
			lastLoss = l.Criterion.Eval(output, batch)
			l.Optim.Step()

			if (step+1)%logEvery == 0 {
				l.Logf("epoch [%d/%d], step [%d/%d], loss: %.4f",
					epoch, l.Config.Epochs, step+1, totalSteps, lastLoss)
			}
		}

		l.Optim.SetLR(l.Optim.LR() * l.Config.LRDecay)

		l.Model.SetTraining(false)
		correct, total := l.score(l.ValBatches, 0)
		accuracy := ratio(correct, total)
		l.Logf("validation accuracy: %.2f %%", accuracy*100)

		if l.Config.EarlyStop && accuracy > result.BestValAccuracy {
			result.BestValAccuracy = accuracy
			result.BestEpoch = epoch
			if err := l.Ckpt.SaveBest(epoch, accuracy); err != nil {
				return nil, fmt.Errorf("failed to save best checkpoint: %w", err)
			}
		} else if accuracy > result.BestValAccuracy {
			result.BestValAccuracy = accuracy
		}

		if l.Track != nil {
			l.Track.LogEpoch(epoch, lastLoss, accuracy)
		}
	}

	if err := l.Ckpt.SavePost(); err != nil {
		return nil, fmt.Errorf("failed to save post-training checkpoint: %w", err)
	}
	if l.Config.EarlyStop {
		l.Logf("best validation accuracy: %.2f %%", result.BestValAccuracy*100)
		if result.BestEpoch >= 0 {
			if err := l.Ckpt.RestoreBest(); err != nil {
				return nil, err
			}
			result.Reloaded = true
		}
	}

	l.Model.SetTraining(false)
	correct, total := l.score(l.TestBatches, cutoff)
	result.TestAccuracy = ratio(correct, total)
	result.TestTotal = total
	l.Logf("test accuracy of the network on %d test images: %.2f %%",
		total, result.TestAccuracy*100)

	if l.Track != nil {
		l.Track.Summary("test_accuracy", result.TestAccuracy)
	}

	if err := l.Ckpt.SaveFinal(); err != nil {
		return nil, fmt.Errorf("failed to save final model: %w", err)
	}
	return result, nil
}

// score evaluates batches and returns (correct, scored). A positive
// cutoff truncates the crossing batch so exactly cutoff examples count.
func (l *Loop) score(batches []Batch, cutoff int) (int, int) {
	correct, total := 0, 0
	for _, batch := range batches {
		if cutoff > 0 && total >= cutoff {
			break
		}
		n := batch.Size()
		if cutoff > 0 && total+n > cutoff {
			n = cutoff - total
		}
		output := l.Model.Compute(batch)
		correct += l.Criterion.Correct(output, batch, n)
		total += n
	}
	return correct, total
}

func ratio(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
