package imgopt

import "log/slog"

// Option configures an Optimizer.
type Option func(*Optimizer) error

// WithProber sets the format support prober. Without one, plans assume
// jpg-only support.
func WithProber(p FormatProber) Option {
	return func(o *Optimizer) error {
		o.prober = p
		return nil
	}
}

// WithVariantResolver sets the experiment assignment resolver. Without one,
// plans use the default smart-detection and balanced variants.
func WithVariantResolver(r VariantResolver) Option {
	return func(o *Optimizer) error {
		o.variants = r
		return nil
	}
}

// WithLogger sets the logger used for non-fatal pipeline warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) error {
		o.logger = logger
		return nil
	}
}
