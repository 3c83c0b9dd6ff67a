package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/convnet/internal/model"
)

const modelType = "convnet-cifar10"

// Store saves and restores network snapshots as .born files.
//
// File names carry the run ID and the configured epoch count so snapshots
// from different runs never collide in a shared checkpoint directory.
type Store[B tensor.Backend] struct {
	dir     string
	runID   string
	epochs  int
	backend *autodiff.Backend[B]
	net     *model.Net[*autodiff.Backend[B]]
}

// NewStore creates a checkpoint store, creating dir if needed.
func NewStore[B tensor.Backend](
	dir, runID string,
	epochs int,
	backend *autodiff.Backend[B],
	net *model.Net[*autodiff.Backend[B]],
) (*Store[B], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store[B]{
		dir:     dir,
		runID:   runID,
		epochs:  epochs,
		backend: backend,
		net:     net,
	}, nil
}

func (s *Store[B]) bestPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_best_%de.born", s.runID, s.epochs))
}

func (s *Store[B]) postPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_after_training_%de.born", s.runID, s.epochs))
}

func (s *Store[B]) finalPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_model.born", s.runID))
}

// SaveBest snapshots the network after a new best validation accuracy.
func (s *Store[B]) SaveBest(epoch int, accuracy float64) error {
	return nn.Save[*autodiff.Backend[B]](s.net, s.bestPath(), modelType, map[string]string{
		"run_id":       s.runID,
		"epoch":        fmt.Sprintf("%d", epoch),
		"val_accuracy": fmt.Sprintf("%.6f", accuracy),
	})
}

// SavePost snapshots the network state at the end of the last epoch,
// before any best-checkpoint reload.
func (s *Store[B]) SavePost() error {
	return nn.Save[*autodiff.Backend[B]](s.net, s.postPath(), modelType, map[string]string{
		"run_id": s.runID,
		"stage":  "after_training",
	})
}

// SaveFinal writes the model snapshot that remains after evaluation.
func (s *Store[B]) SaveFinal() error {
	return nn.Save[*autodiff.Backend[B]](s.net, s.finalPath(), modelType, map[string]string{
		"run_id": s.runID,
		"stage":  "final",
	})
}

// RestoreBest reloads the parameters saved by the last SaveBest.
func (s *Store[B]) RestoreBest() error {
	if _, err := nn.Load(s.bestPath(), s.backend, s.net); err != nil {
		return fmt.Errorf("failed to restore best checkpoint: %w", err)
	}
	return nil
}
