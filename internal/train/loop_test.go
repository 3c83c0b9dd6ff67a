package train

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBatch struct{ n int }

func (b fakeBatch) Size() int { return b.n }

func makeBatches(sizes ...int) []Batch {
	out := make([]Batch, len(sizes))
	for i, n := range sizes {
		out[i] = fakeBatch{n: n}
	}
	return out
}

// fakeModel records mode switches and echoes the batch as its output.
type fakeModel struct {
	modes []bool
}

func (m *fakeModel) Compute(b Batch) Output    { return b }
func (m *fakeModel) SetTraining(training bool) { m.modes = append(m.modes, training) }

// fakeCriterion returns scripted accuracies: the i-th validation pass
// marks the fraction accs[i] of every scored batch as correct.
type fakeCriterion struct {
	accs        []float64
	evals       int
	validations int
	limits      []int
}

func (c *fakeCriterion) Eval(output Output, b Batch) float64 {
	c.evals++
	return 1.0 / float64(c.evals)
}

func (c *fakeCriterion) Correct(output Output, b Batch, limit int) int {
	c.limits = append(c.limits, limit)
	idx := c.validations
	if idx >= len(c.accs) {
		idx = len(c.accs) - 1
	}
	return int(c.accs[idx] * float64(limit))
}

// advance moves the scripted accuracy pointer one validation forward.
func (c *fakeCriterion) advance() { c.validations++ }

type fakeOptim struct {
	steps int
	lr    float64
	lrs   []float64
}

func (o *fakeOptim) Step()            { o.steps++ }
func (o *fakeOptim) LR() float64      { return o.lr }
func (o *fakeOptim) SetLR(lr float64) { o.lr = lr; o.lrs = append(o.lrs, lr) }

type fakeCkpt struct {
	bestEpochs []int
	bestAccs   []float64
	post       int
	final      int
	restored   int
}

func (c *fakeCkpt) SaveBest(epoch int, accuracy float64) error {
	c.bestEpochs = append(c.bestEpochs, epoch)
	c.bestAccs = append(c.bestAccs, accuracy)
	return nil
}
func (c *fakeCkpt) SavePost() error    { c.post++; return nil }
func (c *fakeCkpt) SaveFinal() error   { c.final++; return nil }
func (c *fakeCkpt) RestoreBest() error { c.restored++; return nil }

type fakeTrack struct {
	epochs    []int
	losses    []float64
	accs      []float64
	summaries map[string]float64
}

func (t *fakeTrack) LogEpoch(epoch int, loss, valAccuracy float64) {
	t.epochs = append(t.epochs, epoch)
	t.losses = append(t.losses, loss)
	t.accs = append(t.accs, valAccuracy)
}

func (t *fakeTrack) Summary(key string, value float64) {
	if t.summaries == nil {
		t.summaries = map[string]float64{}
	}
	t.summaries[key] = value
}

// criterionScript wires a fakeCriterion so each epoch's validation uses
// the next scripted accuracy. The loop validates once per epoch, so the
// pointer advances on every SetLR call (which happens right before
// validation each epoch).
type scriptedOptim struct {
	fakeOptim
	crit *fakeCriterion
}

func (o *scriptedOptim) SetLR(lr float64) {
	o.fakeOptim.SetLR(lr)
	o.crit.advance()
}

func newLoop(epochs int, earlyStop bool, accs []float64) (*Loop, *fakeModel, *fakeCriterion, *scriptedOptim, *fakeCkpt, *fakeTrack) {
	model := &fakeModel{}
	crit := &fakeCriterion{accs: accs, validations: -1}
	optim := &scriptedOptim{fakeOptim: fakeOptim{lr: 0.1}, crit: crit}
	ckpt := &fakeCkpt{}
	track := &fakeTrack{}

	loop := &Loop{
		Config: Config{
			Epochs:    epochs,
			LRDecay:   0.5,
			EarlyStop: earlyStop,
		},
		Model:        model,
		Criterion:    crit,
		Optim:        optim,
		Ckpt:         ckpt,
		Track:        track,
		TrainBatches: makeBatches(10, 10),
		ValBatches:   makeBatches(100),
		TestBatches:  makeBatches(400, 400, 400),
		Logf:         func(string, ...any) {},
	}
	return loop, model, crit, optim, ckpt, track
}

func TestRunSchedule(t *testing.T) {
	loop, model, crit, optim, ckpt, track := newLoop(3, false, []float64{0.5, 0.5, 0.5})

	result, err := loop.Run()
	require.NoError(t, err)

	// Two train batches per epoch, three epochs.
	assert.Equal(t, 6, crit.evals)
	assert.Equal(t, 6, optim.steps)

	// The learning rate halves after every epoch.
	assert.InDeltaSlice(t, []float64{0.05, 0.025, 0.0125}, optim.lrs, 1e-12)

	// Mode flips to train at each epoch start and eval before scoring.
	assert.Equal(t, []bool{true, false, true, false, true, false, false}, model.modes)

	// No early stopping: no best checkpoints and no reload, but the
	// post-training snapshot is still written.
	assert.Empty(t, ckpt.bestEpochs)
	assert.Equal(t, 1, ckpt.post)
	assert.Equal(t, 0, ckpt.restored)
	assert.False(t, result.Reloaded)

	// The final model is always saved.
	assert.Equal(t, 1, ckpt.final)

	// Every epoch is tracked and the summary carries the test accuracy.
	assert.Equal(t, []int{1, 2, 3}, track.epochs)
	assert.InDelta(t, 0.5, track.summaries["test_accuracy"], 1e-9)
}

func TestEarlyStopSavesOnImprovement(t *testing.T) {
	loop, _, _, _, ckpt, _ := newLoop(3, true, []float64{0.40, 0.55, 0.55})

	result, err := loop.Run()
	require.NoError(t, err)

	// Epoch 1 improves over 0, epoch 2 improves over 0.40; epoch 3 ties
	// and must not trigger a save.
	assert.Equal(t, []int{1, 2}, ckpt.bestEpochs)
	assert.InDeltaSlice(t, []float64{0.40, 0.55}, ckpt.bestAccs, 1e-9)

	assert.Equal(t, 2, result.BestEpoch)
	assert.InDelta(t, 0.55, result.BestValAccuracy, 1e-9)

	// After training: post snapshot, then reload of the best checkpoint.
	assert.Equal(t, 1, ckpt.post)
	assert.Equal(t, 1, ckpt.restored)
	assert.True(t, result.Reloaded)
}

func TestEarlyStopIgnoresDecline(t *testing.T) {
	loop, _, _, _, ckpt, _ := newLoop(2, true, []float64{0.55, 0.40})

	result, err := loop.Run()
	require.NoError(t, err)

	assert.Equal(t, []int{1}, ckpt.bestEpochs)
	assert.Equal(t, 1, result.BestEpoch)
	assert.InDelta(t, 0.55, result.BestValAccuracy, 1e-9)
	assert.True(t, result.Reloaded)
}

func TestBestAccuracyTrackedWithoutEarlyStop(t *testing.T) {
	loop, _, _, _, ckpt, _ := newLoop(2, false, []float64{0.30, 0.60})

	result, err := loop.Run()
	require.NoError(t, err)

	// The best value is still reported, but nothing is saved or reloaded.
	assert.InDelta(t, 0.60, result.BestValAccuracy, 1e-9)
	assert.Equal(t, -1, result.BestEpoch)
	assert.Empty(t, ckpt.bestEpochs)
	assert.False(t, result.Reloaded)
}

func TestTestCutoffTruncatesCrossingBatch(t *testing.T) {
	loop, _, crit, _, _, _ := newLoop(1, false, []float64{0.5})
	// Three test batches of 400: the cutoff of 1000 takes 400, 400, 200.
	result, err := loop.Run()
	require.NoError(t, err)

	assert.Equal(t, 1000, result.TestTotal)

	// The last three Correct calls are the test pass; the validation pass
	// before them scored the full 100-example batch.
	n := len(crit.limits)
	require.GreaterOrEqual(t, n, 4)
	assert.Equal(t, []int{400, 400, 200}, crit.limits[n-3:])
	assert.Equal(t, 100, crit.limits[n-4])
}

func TestTestCutoffSkipsTrailingBatches(t *testing.T) {
	loop, _, crit, _, _, _ := newLoop(1, false, []float64{0.5})
	loop.Config.TestCutoff = 400
	loop.TestBatches = makeBatches(400, 400)

	result, err := loop.Run()
	require.NoError(t, err)

	// The second batch is never computed.
	assert.Equal(t, 400, result.TestTotal)
	assert.Equal(t, 400, crit.limits[len(crit.limits)-1])
}

func TestLogEveryDefaults(t *testing.T) {
	var lines []string
	loop, _, _, _, _, _ := newLoop(1, false, []float64{0.5})

	sizes := make([]int, 150)
	for i := range sizes {
		sizes[i] = 10
	}
	loop.TrainBatches = makeBatches(sizes...)
	loop.Logf = func(format string, args ...any) {
		lines = append(lines, format)
	}

	_, err := loop.Run()
	require.NoError(t, err)

	// 150 steps with the default interval of 100 log exactly once, plus
	// the validation and test summary lines.
	stepLogs := 0
	for _, l := range lines {
		if l == "epoch [%d/%d], step [%d/%d], loss: %.4f" {
			stepLogs++
		}
	}
	assert.Equal(t, 1, stepLogs)
}

func TestEmptyValidationSet(t *testing.T) {
	loop, _, _, _, _, _ := newLoop(1, true, []float64{0})
	loop.ValBatches = nil

	result, err := loop.Run()
	require.NoError(t, err)

	// No validation data: accuracy stays 0, nothing beats it, no reload.
	assert.Equal(t, -1, result.BestEpoch)
	assert.False(t, result.Reloaded)
}
