package imgopt

import (
	"context"
	"log/slog"
	"time"
)

// Experiment names consulted by the Optimizer when a VariantResolver is
// configured.
const (
	ExperimentFormat  = "image-format"
	ExperimentQuality = "image-quality"
)

// FormatProber resolves which formats the client can decode. Probe never
// fails: implementations resolve uncertain formats to unsupported.
type FormatProber interface {
	Probe(ctx context.Context) FormatSupport
}

// VariantResolver maps a stable user identifier to a variant within a named
// experiment. Assignments must be deterministic for a given identifier.
type VariantResolver interface {
	Variant(ctx context.Context, userID, experiment string) (string, error)
}

// Optimizer is the single context object tying the pipeline together:
// capability probing, experiment assignment, format/quality selection, and
// request building. Construct one per process and pass it to all consumers;
// there is no ambient shared state.
type Optimizer struct {
	builder  *Builder
	prober   FormatProber
	variants VariantResolver
	logger   *slog.Logger
}

// New creates an Optimizer targeting the given proxy base URL.
func New(proxyBase string, opts ...Option) (*Optimizer, error) {
	b, err := NewBuilder(proxyBase)
	if err != nil {
		return nil, err
	}
	o := &Optimizer{builder: b}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Builder returns the underlying request builder.
func (o *Optimizer) Builder() *Builder { return o.builder }

// log returns the logger, falling back to a discard logger if nil.
func (o *Optimizer) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// PlanRequest carries the inputs for a single image render.
type PlanRequest struct {
	// SourceRef is the source image reference.
	SourceRef string

	// Width and Height are the requested render dimensions. Must be
	// positive.
	Width  int
	Height int

	// Quality is the requested quality; <= 0 selects the default.
	Quality int

	// Profile is the client device snapshot.
	Profile DeviceProfile

	// UserID is the stable per-user identifier for experiment bucketing.
	// Empty disables experiment lookups for this plan.
	UserID string
}

// Plan is the fully derived render descriptor for one image.
type Plan struct {
	Spec           ImageRequestSpec
	SrcSet         []SrcSetEntry
	PlaceholderURL string

	// FetchTimeout is the abort budget for fetching Spec.URL, derived from
	// the profile's network class.
	FetchTimeout time.Duration
}

// Plan derives the complete render descriptor for one image: probes format
// support, resolves experiment variants, selects format and quality, and
// builds the request, source set, and placeholder URLs.
//
// Probe and experiment failures degrade to conservative defaults (jpg-only
// support, smart-detection and balanced variants); only malformed input
// produces an error.
func (o *Optimizer) Plan(ctx context.Context, req PlanRequest) (Plan, error) {
	var support FormatSupport
	if o.prober != nil {
		support = o.prober.Probe(ctx)
	}

	formatVariant := o.variant(ctx, req.UserID, ExperimentFormat, VariantSmartDetection)
	qualityVariant := o.variant(ctx, req.UserID, ExperimentQuality, VariantBalanced)

	format := SelectFormat(support, req.Profile, formatVariant)
	quality := SelectQuality(req.Quality, qualityVariant, req.Profile)

	spec, err := o.builder.BuildRequest(req.SourceRef, req.Width, req.Height, format, quality, req.Profile)
	if err != nil {
		return Plan{}, err
	}
	srcset, err := o.builder.SrcSet(req.SourceRef, req.Width, req.Height, format, quality, req.Profile)
	if err != nil {
		return Plan{}, err
	}
	placeholder, err := o.builder.Placeholder(req.SourceRef, req.Width, req.Height)
	if err != nil {
		return Plan{}, err
	}

	return Plan{
		Spec:           spec,
		SrcSet:         srcset,
		PlaceholderURL: placeholder,
		FetchTimeout:   req.Profile.Network.FetchTimeout(),
	}, nil
}

func (o *Optimizer) variant(ctx context.Context, userID, experiment, fallback string) string {
	if o.variants == nil || userID == "" {
		return fallback
	}
	v, err := o.variants.Variant(ctx, userID, experiment)
	if err != nil {
		o.log().Warn("variant lookup failed", "experiment", experiment, "error", err)
		return fallback
	}
	if v == "" {
		return fallback
	}
	return v
}
