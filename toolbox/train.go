package toolbox

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Dataset is a restartable, random-access sequence of labeled examples.
// Implementations may load examples lazily.
type Dataset interface {
	Len() int
	Example(i int) (label int, pixels []float64, err error)
}

// Example is one labeled input.
type Example struct {
	Label  int
	Pixels []float64
}

// Examples is an in-memory Dataset.
type Examples []Example

func (e Examples) Len() int {
	return len(e)
}

func (e Examples) Example(i int) (int, []float64, error) {
	if i < 0 || i >= len(e) {
		return 0, nil, fmt.Errorf("%w: example %d not in [0, %d)", ErrIndex, i, len(e))
	}
	return e[i].Label, e[i].Pixels, nil
}

// TrainConfig controls a Train run.
type TrainConfig struct {
	// LayerSizes is used only when training starts from fresh parameters.
	LayerSizes []int

	LearningRate float64
	Epochs       int

	// Seed drives both initialization and shuffling.
	Seed    int64
	Shuffle bool

	// LogEvery logs the running loss every LogEvery examples.  Zero
	// disables per-example logging; epoch summaries are always logged.
	LogEvery int
}

// DefaultTrainConfig is a 784-128-128-10 network trained for one shuffled
// pass at learning rate 0.01.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LayerSizes:   []int{28 * 28, 128, 128, 10},
		LearningRate: 0.01,
		Epochs:       1,
		Seed:         12345,
		Shuffle:      true,
	}
}

func (c TrainConfig) check() error {
	if err := checkLearningRate(c.LearningRate); err != nil {
		return err
	}
	if c.Epochs < 1 {
		return fmt.Errorf("%w: epochs must be at least 1, got %d", ErrConfig, c.Epochs)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("%w: log interval must not be negative, got %d", ErrConfig, c.LogEvery)
	}
	return nil
}

// Train runs SGD over ds for cfg.Epochs passes, one example per step.
//
// If initial is nil, training starts from NewParams(cfg.LayerSizes).
// Otherwise initial is trained in place and returned.  Training stops
// between examples once ctx is done.
//
// On error no parameters are returned.  When initial was given, it keeps
// every step that completed before the failure.
func Train(ctx context.Context, ds Dataset, initial *Params, cfg TrainConfig) (*Params, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	r := rand.New(rand.NewSource(cfg.Seed))

	p := initial
	if p == nil {
		var err error
		p, err = NewParams(cfg.LayerSizes, r)
		if err != nil {
			return nil, fmt.Errorf("while initializing parameters: %w", err)
		}
	}

	sgd, err := NewSGD(cfg.LearningRate)
	if err != nil {
		return nil, err
	}

	order := make([]int, ds.Len())
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		// Present examples in a different order each epoch.
		if cfg.Shuffle {
			r.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}

		totalLoss := float64(0)
		for k, idx := range order {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("while training epoch %d: stopped after %d examples: %w", epoch, k, err)
			}

			label, x, err := ds.Example(idx)
			if err != nil {
				return nil, fmt.Errorf("while loading example %d: %w", idx, err)
			}

			loss, err := sgd.TrainStep(p, x, label)
			if err != nil {
				return nil, fmt.Errorf("while training on example %d (epoch %d): %w", idx, epoch, err)
			}
			totalLoss += loss

			if cfg.LogEvery > 0 && (k+1)%cfg.LogEvery == 0 {
				log.Printf("epoch %d example %d/%d running-loss=%f", epoch, k+1, len(order), totalLoss/float64(k+1))
			}
		}

		meanLoss := float64(0)
		if len(order) > 0 {
			meanLoss = totalLoss / float64(len(order))
		}
		log.Printf("epoch %d examples=%d training-loss=%f", epoch, len(order), meanLoss)
		log.Printf("epoch %d timings overall=%.1f forward=%.1f loss=%.1f backprop=%.1f weightupdate=%.1f",
			epoch,
			sgd.Timings.Overall.Seconds(),
			sgd.Timings.Forward.Seconds(),
			sgd.Timings.Loss.Seconds(),
			sgd.Timings.Backpropagation.Seconds(),
			sgd.Timings.WeightUpdate.Seconds(),
		)
		sgd.Timings.Reset()
	}

	return p, nil
}

// Metrics summarizes a network's performance on a dataset.
type Metrics struct {
	Examples int
	Correct  int

	// Loss is the mean cross-entropy.
	Loss float64
}

// Accuracy is the fraction of examples classified correctly.
func (m Metrics) Accuracy() float64 {
	if m.Examples == 0 {
		return 0
	}
	return float64(m.Correct) / float64(m.Examples)
}

// Evaluate measures loss and accuracy of p over ds without modifying p.
func Evaluate(p *Params, ds Dataset) (Metrics, error) {
	m := Metrics{}
	totalLoss := float64(0)

	for i := 0; i < ds.Len(); i++ {
		label, x, err := ds.Example(i)
		if err != nil {
			return Metrics{}, fmt.Errorf("while loading example %d: %w", i, err)
		}

		t, err := Forward(p, x)
		if err != nil {
			return Metrics{}, fmt.Errorf("while evaluating example %d: %w", i, err)
		}
		probs := Softmax(t.Logits())

		loss, err := CrossEntropy(probs, label)
		if err != nil {
			return Metrics{}, fmt.Errorf("while evaluating example %d: %w", i, err)
		}
		totalLoss += loss

		if floats.MaxIdx(probs) == label {
			m.Correct++
		}
		m.Examples++
	}

	if m.Examples > 0 {
		m.Loss = totalLoss / float64(m.Examples)
	}
	return m, nil
}
