package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	memories []float64
	err      error
}

func (f *fakeSampler) PageMemories(ctx context.Context) ([]float64, error) {
	return f.memories, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func fixedMemory(mb float64) Option {
	return WithAvailableMemory(func() (float64, error) { return mb, nil })
}

func TestOptimize_BoundsRegardlessOfInputs(t *testing.T) {
	ctx := context.Background()
	sampler := &fakeSampler{memories: []float64{100, 250, 180}}

	cases := []struct {
		name       string
		categories int
		products   int
	}{
		{"zero inputs", 0, 0},
		{"negative inputs", -3, -7},
		{"huge products input", 1, 10_000},
		{"normal inputs", 2, 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := NewOptimizer(10, testLogger(), fixedMemory(16_000))
			size, err := o.Optimize(ctx, sampler, tc.categories, tc.products)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, size, 1)
			assert.LessOrEqual(t, size, o.Ceiling())
		})
	}
}

func TestOptimize_ShrinksUnderPressure(t *testing.T) {
	ctx := context.Background()
	// 500 MB per page, budget = 5500 - 4000 = 1500 MB. With 2 categories a
	// products chunk of 5 projects 5000 MB; only 1 fits under the budget.
	sampler := &fakeSampler{memories: []float64{500}}
	o := NewOptimizer(10, testLogger(), fixedMemory(5_500))

	size, err := o.Optimize(ctx, sampler, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestOptimize_GrowsTowardCeiling(t *testing.T) {
	ctx := context.Background()
	// 10 MB per page and a huge budget: growth must stop at the ceiling.
	sampler := &fakeSampler{memories: []float64{10}}
	o := NewOptimizer(8, testLogger(), fixedMemory(50_000))

	size, err := o.Optimize(ctx, sampler, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 8, size)
}

func TestOptimize_UsesMaxOpenPageAsEstimate(t *testing.T) {
	ctx := context.Background()
	// Max page is 1000 MB; budget is 2000 MB, 1 category. Chunk of 4
	// projects 4000 MB and must shrink to 2.
	sampler := &fakeSampler{memories: []float64{100, 1000, 400}}
	o := NewOptimizer(10, testLogger(), fixedMemory(6_000))

	size, err := o.Optimize(ctx, sampler, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestOptimize_FailsWithoutOpenPages(t *testing.T) {
	ctx := context.Background()
	o := NewOptimizer(10, testLogger(), fixedMemory(16_000))

	_, err := o.Optimize(ctx, &fakeSampler{}, 1, 1)
	assert.Error(t, err)
}

func TestOptimize_SamplerErrorPropagates(t *testing.T) {
	ctx := context.Background()
	o := NewOptimizer(10, testLogger(), fixedMemory(16_000))

	_, err := o.Optimize(ctx, &fakeSampler{err: errors.New("browser gone")}, 1, 1)
	assert.Error(t, err)
}
