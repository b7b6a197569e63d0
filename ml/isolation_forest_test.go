package ml

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"testing"

	"gridsight/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusteredMatrix builds n scaled rows in a tight cluster plus outliers far
// outside it, returning the matrix and the outlier row indices.
func clusteredMatrix(n, outliers int, seed int64) ([][]float64, map[int]bool) {
	rng := rand.New(rand.NewSource(seed))
	matrix := make([][]float64, 0, n+outliers)
	for i := 0; i < n; i++ {
		row := make([]float64, core.FeatureCount)
		for f := range row {
			row[f] = rng.NormFloat64() * 0.5
		}
		matrix = append(matrix, row)
	}

	outlierIdx := make(map[int]bool, outliers)
	for i := 0; i < outliers; i++ {
		row := make([]float64, core.FeatureCount)
		for f := range row {
			row[f] = 10 + rng.Float64()*2
		}
		outlierIdx[len(matrix)] = true
		matrix = append(matrix, row)
	}
	return matrix, outlierIdx
}

// TestTrainForest tests basic training over a small matrix
func TestTrainForest(t *testing.T) {
	matrix, _ := clusteredMatrix(200, 0, 1)

	forest, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 42})
	require.NoError(t, err)

	assert.True(t, forest.Ready())
	assert.Equal(t, 100, forest.NumTrees)
	assert.Len(t, forest.Trees, 100)
	assert.Equal(t, 200, forest.SubsampleSize, "subsample is capped at min(256, n)")
	assert.Greater(t, forest.Threshold, 0.0)
	assert.Less(t, forest.Threshold, 1.0)
}

// TestTrainForest_Empty tests the empty-matrix error
func TestTrainForest_Empty(t *testing.T) {
	_, err := TrainForest(context.Background(), nil, &ForestConfig{Seed: 42})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmptyTrainingSet)
}

// TestTrainForest_Cancelled tests context cancellation during the build
func TestTrainForest_Cancelled(t *testing.T) {
	matrix, _ := clusteredMatrix(500, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TrainForest(ctx, matrix, &ForestConfig{Seed: 42})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestTrainForest_Deterministic tests that the same seed reproduces identical
// scores regardless of worker count
func TestTrainForest_Deterministic(t *testing.T) {
	matrix, _ := clusteredMatrix(300, 5, 7)

	f1, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 42, Workers: 1})
	require.NoError(t, err)
	f2, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 42, Workers: 8})
	require.NoError(t, err)

	assert.Equal(t, f1.Threshold, f2.Threshold)
	for i, row := range matrix {
		assert.Equal(t, f1.Score(row), f2.Score(row), "row %d", i)
	}
}

// TestTrainForest_SeedChangesResult tests that different seeds diverge
func TestTrainForest_SeedChangesResult(t *testing.T) {
	matrix, _ := clusteredMatrix(300, 5, 7)

	f1, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 1})
	require.NoError(t, err)
	f2, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 2})
	require.NoError(t, err)

	diverged := false
	for _, row := range matrix {
		if f1.Score(row) != f2.Score(row) {
			diverged = true
			break
		}
	}
	assert.True(t, diverged, "different seeds should build different forests")
}

// TestForest_Score_Range tests that scores fall in (0, 1]
func TestForest_Score_Range(t *testing.T) {
	matrix, _ := clusteredMatrix(300, 10, 3)

	forest, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 42})
	require.NoError(t, err)

	for _, row := range matrix {
		s := forest.Score(row)
		assert.Greater(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

// TestForest_OutliersScoreHigher tests that isolated points outrank the cluster
func TestForest_OutliersScoreHigher(t *testing.T) {
	matrix, outlierIdx := clusteredMatrix(990, 10, 11)

	forest, err := TrainForest(context.Background(), matrix, &ForestConfig{
		Seed:          42,
		Contamination: 0.01,
	})
	require.NoError(t, err)

	type scored struct {
		idx   int
		score float64
	}
	all := make([]scored, len(matrix))
	for i, row := range matrix {
		all[i] = scored{i, forest.Score(row)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	// All ten planted outliers must land in the top 15 by score.
	top := all[:15]
	found := 0
	for _, s := range top {
		if outlierIdx[s.idx] {
			found++
		}
	}
	assert.Equal(t, len(outlierIdx), found, "planted outliers must dominate the score ranking")
}

// TestForest_ThresholdContamination tests that the trained threshold labels
// approximately the contamination fraction of the training set
func TestForest_ThresholdContamination(t *testing.T) {
	matrix, _ := clusteredMatrix(990, 10, 11)

	forest, err := TrainForest(context.Background(), matrix, &ForestConfig{
		Seed:          42,
		Contamination: 0.01,
	})
	require.NoError(t, err)

	flagged := 0
	for _, row := range matrix {
		if _, anomalous := forest.Classify(row); anomalous {
			flagged++
		}
	}

	// 1% of 1000 rows, within rounding slack for tied scores.
	assert.GreaterOrEqual(t, flagged, 8)
	assert.LessOrEqual(t, flagged, 12)
}

// TestForest_Classify_UsesStoredThreshold tests that classification is a pure
// comparison against the persisted threshold
func TestForest_Classify_UsesStoredThreshold(t *testing.T) {
	matrix, _ := clusteredMatrix(200, 2, 5)

	forest, err := TrainForest(context.Background(), matrix, &ForestConfig{Seed: 42})
	require.NoError(t, err)

	row := matrix[0]
	score, anomalous := forest.Classify(row)
	assert.Equal(t, forest.Score(row), score)
	assert.Equal(t, score > forest.Threshold, anomalous)
}

// TestAveragePathLength tests the harmonic correction term
func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(0))
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.InDelta(t, 1.0, averagePathLength(2), 1e-9)

	// c(n) = 2H(n-1) - 2(n-1)/n for a spot value.
	h := 0.0
	for i := 1; i <= 255; i++ {
		h += 1.0 / float64(i)
	}
	want := 2*h - 2*255.0/256.0
	assert.InDelta(t, want, averagePathLength(256), 1e-9)

	// Monotonically increasing in n.
	assert.Less(t, averagePathLength(16), averagePathLength(256))
}

// TestBuildTree_HeightLimit tests that no path exceeds the height limit
func TestBuildTree_HeightLimit(t *testing.T) {
	matrix, _ := clusteredMatrix(256, 0, 9)
	rng := rand.New(rand.NewSource(1))
	idx := make([]int, len(matrix))
	for i := range idx {
		idx[i] = i
	}

	limit := int(math.Ceil(math.Log2(256)))
	nodes := buildTree(matrix, idx, rng, limit)
	require.NotEmpty(t, nodes)

	var maxDepth func(i int32, d int) int
	maxDepth = func(i int32, d int) int {
		nd := nodes[i]
		if nd.Feature == leafFeature {
			return d
		}
		l := maxDepth(nd.Left, d+1)
		r := maxDepth(nd.Right, d+1)
		if l > r {
			return l
		}
		return r
	}
	assert.LessOrEqual(t, maxDepth(0, 0), limit)
}
