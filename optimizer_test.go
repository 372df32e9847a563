package imgopt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedProber struct {
	support FormatSupport
}

func (p fixedProber) Probe(context.Context) FormatSupport { return p.support }

type fixedResolver struct {
	variants map[string]string
	err      error
}

func (r fixedResolver) Variant(_ context.Context, _, experiment string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.variants[experiment], nil
}

func TestOptimizerPlan(t *testing.T) {
	t.Parallel()

	opt, err := New(testProxyBase,
		WithProber(fixedProber{support: FormatSupport{AVIF: true, WebP: true}}),
		WithVariantResolver(fixedResolver{variants: map[string]string{
			ExperimentFormat:  VariantSmartDetection,
			ExperimentQuality: VariantAggressive,
		}}),
	)
	require.NoError(t, err)

	plan, err := opt.Plan(context.Background(), PlanRequest{
		SourceRef: "https://cdn.example.com/hero.jpg",
		Width:     800,
		Height:    600,
		Profile:   DeviceProfile{Network: Network3G, PixelRatio: 1},
		UserID:    "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, FormatAVIF, plan.Spec.Format)
	assert.Equal(t, 58, plan.Spec.Quality, "aggressive on 3g from default 80")
	assert.Len(t, plan.SrcSet, 4)
	assert.NotEmpty(t, plan.PlaceholderURL)
	assert.Equal(t, 4*time.Second, plan.FetchTimeout)
}

func TestOptimizerPlanWithoutProberAssumesJPEGOnly(t *testing.T) {
	t.Parallel()

	opt, err := New(testProxyBase)
	require.NoError(t, err)

	plan, err := opt.Plan(context.Background(), PlanRequest{
		SourceRef: "https://cdn.example.com/hero.jpg",
		Width:     100,
		Height:    100,
		Profile:   DeviceProfile{Network: Network4G},
	})
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, plan.Spec.Format)
}

func TestOptimizerPlanResolverFailureDegrades(t *testing.T) {
	t.Parallel()

	opt, err := New(testProxyBase,
		WithProber(fixedProber{support: FormatSupport{AVIF: true}}),
		WithVariantResolver(fixedResolver{err: errors.New("store down")}),
	)
	require.NoError(t, err)

	plan, err := opt.Plan(context.Background(), PlanRequest{
		SourceRef: "https://cdn.example.com/hero.jpg",
		Width:     100,
		Height:    100,
		Profile:   DeviceProfile{Network: Network4G},
		UserID:    "user-1",
	})
	require.NoError(t, err, "resolver failure must not fail the plan")
	assert.Equal(t, FormatAVIF, plan.Spec.Format, "defaults to smart-detection")
	assert.Equal(t, 80, plan.Spec.Quality, "defaults to balanced")
}

func TestOptimizerPlanRejectsBadInput(t *testing.T) {
	t.Parallel()

	opt, err := New(testProxyBase)
	require.NoError(t, err)

	_, err = opt.Plan(context.Background(), PlanRequest{
		SourceRef: "https://cdn.example.com/hero.jpg",
		Width:     0,
		Height:    100,
	})
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = opt.Plan(context.Background(), PlanRequest{
		SourceRef: "not a url",
		Width:     100,
		Height:    100,
	})
	assert.ErrorIs(t, err, ErrInvalidRef)
}
