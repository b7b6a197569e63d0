package ml

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"gridsight/core"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Node is one node of an isolation tree, stored in a flat arena with child
// references by index. Feature < 0 marks a leaf; leaves remember the count
// of records they terminated with for path-length correction.
type Node struct {
	Feature int8
	Split   float64
	Left    int32
	Right   int32
	Size    int32
}

const leafFeature = int8(-1)

// ForestConfig holds isolation forest training parameters.
type ForestConfig struct {
	NumTrees      int     // Number of trees in the ensemble (default: 100)
	SubsampleCap  int     // Upper bound on per-tree subsample size (default: 256)
	Contamination float64 // Expected fraction of anomalies (default: 0.01)
	Seed          int64   // RNG seed; same seed + same input reproduces identical trees
	Workers       int     // Parallel tree builders (default: GOMAXPROCS)
	Logger        *zap.SugaredLogger
}

func (c *ForestConfig) applyDefaults() {
	if c.NumTrees == 0 {
		c.NumTrees = 100
	}
	if c.SubsampleCap == 0 {
		c.SubsampleCap = 256
	}
	if c.Contamination == 0 {
		c.Contamination = 0.01
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

// Forest is a trained isolation forest together with the score threshold
// fixed at training time from the contamination rate. Immutable after
// TrainForest.
type Forest struct {
	Trees         [][]Node
	SubsampleSize int
	NumTrees      int
	Contamination float64
	Threshold     float64
	Seed          int64

	// CNorm is the expected path length c(ψ) of an unsuccessful search in a
	// subsample of SubsampleSize records, precomputed at training time.
	CNorm float64
}

// TrainForest builds an ensemble of isolation trees over the scaled matrix.
// Each tree draws its own subsample without replacement and its own RNG
// derived from the seed and tree index, so the result is bit-identical for
// a given seed regardless of worker count. Cancelling ctx aborts the build.
func TrainForest(ctx context.Context, matrix [][]float64, cfg *ForestConfig) (*Forest, error) {
	if cfg == nil {
		cfg = &ForestConfig{}
	}
	cfg.applyDefaults()

	n := len(matrix)
	if n == 0 {
		return nil, fmt.Errorf("cannot train forest: %w", core.ErrEmptyTrainingSet)
	}

	psi := cfg.SubsampleCap
	if n < psi {
		psi = n
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	forest := &Forest{
		Trees:         make([][]Node, cfg.NumTrees),
		SubsampleSize: psi,
		NumTrees:      cfg.NumTrees,
		Contamination: cfg.Contamination,
		Seed:          cfg.Seed,
		CNorm:         averagePathLength(psi),
	}

	workers := cfg.Workers
	if workers > cfg.NumTrees {
		workers = cfg.NumTrees
	}

	treeCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range treeCh {
				rng := rand.New(rand.NewSource(cfg.Seed + int64(i)*0x9E3779B9))
				forest.Trees[i] = buildTree(matrix, subsample(rng, n, psi), rng, heightLimit)
			}
		}()
	}

	var buildErr error
feed:
	for i := 0; i < cfg.NumTrees; i++ {
		select {
		case <-ctx.Done():
			buildErr = ctx.Err()
			break feed
		case treeCh <- i:
		}
	}
	close(treeCh)
	wg.Wait()

	if buildErr != nil {
		return nil, fmt.Errorf("forest training cancelled: %w", buildErr)
	}

	// Fix the score threshold so the top contamination fraction of the
	// training set is labeled anomalous. The threshold travels with the
	// model and is never recomputed per query.
	scores := make([]float64, n)
	for i, row := range matrix {
		scores[i] = forest.Score(row)
	}
	sort.Float64s(scores)
	forest.Threshold = stat.Quantile(1-cfg.Contamination, stat.Empirical, scores, nil)

	cfg.Logger.Infow("Isolation forest trained",
		"trees", cfg.NumTrees,
		"subsample_size", psi,
		"contamination", cfg.Contamination,
		"threshold", forest.Threshold)

	return forest, nil
}

// subsample draws psi distinct row indices.
func subsample(rng *rand.Rand, n, psi int) []int {
	if psi >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	return rng.Perm(n)[:psi]
}

// buildTree grows one isolation tree over the rows in idx, returning its
// arena. At each node a feature is chosen uniformly at random and a split
// value uniformly within the feature's observed range; rows with value
// below the split go left, the rest right.
func buildTree(matrix [][]float64, idx []int, rng *rand.Rand, heightLimit int) []Node {
	nodes := make([]Node, 0, 2*len(idx))

	var grow func(idx []int, depth int) int32
	grow = func(idx []int, depth int) int32 {
		pos := int32(len(nodes))
		if len(idx) <= 1 || depth >= heightLimit {
			nodes = append(nodes, Node{Feature: leafFeature, Size: int32(len(idx))})
			return pos
		}

		f := rng.Intn(core.FeatureCount)
		lo, hi := matrix[idx[0]][f], matrix[idx[0]][f]
		for _, r := range idx[1:] {
			v := matrix[r][f]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if lo == hi {
			nodes = append(nodes, Node{Feature: leafFeature, Size: int32(len(idx))})
			return pos
		}

		split := lo + rng.Float64()*(hi-lo)
		left := make([]int, 0, len(idx))
		right := make([]int, 0, len(idx))
		for _, r := range idx {
			if matrix[r][f] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}

		nodes = append(nodes, Node{Feature: int8(f), Split: split, Size: int32(len(idx))})
		l := grow(left, depth+1)
		r := grow(right, depth+1)
		nodes[pos].Left = l
		nodes[pos].Right = r
		return pos
	}

	grow(idx, 0)
	return nodes
}

// Ready reports whether the forest has been trained.
func (f *Forest) Ready() bool {
	return f != nil && len(f.Trees) > 0
}

// Score computes the anomaly score for a scaled row: the average path
// length across all trees normalized to s = 2^(-E(h)/c(ψ)). Scores fall in
// (0, 1]; shorter paths (easier isolation) map to higher scores.
func (f *Forest) Score(row []float64) float64 {
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, row)
	}
	avg := total / float64(len(f.Trees))
	return math.Pow(2, -avg/f.CNorm)
}

// Classify scores a scaled row and labels it against the stored threshold.
func (f *Forest) Classify(row []float64) (score float64, anomalous bool) {
	score = f.Score(row)
	return score, score > f.Threshold
}

// pathLength walks a row from the arena root to its leaf, adding the
// correction term for leaves that still hold multiple records.
func pathLength(nodes []Node, row []float64) float64 {
	depth := 0.0
	i := int32(0)
	for {
		nd := nodes[i]
		if nd.Feature == leafFeature {
			if nd.Size > 1 {
				depth += averagePathLength(int(nd.Size))
			}
			return depth
		}
		if row[nd.Feature] < nd.Split {
			i = nd.Left
		} else {
			i = nd.Right
		}
		depth++
	}
}

// averagePathLength is the expected path length of an unsuccessful search
// in a binary search tree over n records: 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	harmonic := 0.0
	for i := 1; i <= n-1; i++ {
		harmonic += 1.0 / float64(i)
	}
	return 2*harmonic - 2*float64(n-1)/float64(n)
}
