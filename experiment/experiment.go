// Package experiment provides deterministic variant assignment.
//
// A user's bucket is a stable hash of the experiment name and their
// identifier, so the same identifier with the same variant weights always
// resolves to the same variant. Assignments are additionally persisted via
// a Store so users keep their variant even when weights change.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
)

// ErrUnknownExperiment is returned when resolving a variant for an
// experiment that was not registered.
var ErrUnknownExperiment = errors.New("experiment: unknown experiment")

// bucketSpace is the resolution of the hash-to-weight mapping.
const bucketSpace = 10000

// Variant is one treatment within an experiment.
type Variant struct {
	Name   string
	Weight float64
}

// Experiment is a named set of weighted variants.
type Experiment struct {
	Name     string
	Variants []Variant
}

// Store persists assignments across sessions.
type Store interface {
	// Assignment returns a previously stored variant for the user.
	Assignment(ctx context.Context, userID, experiment string) (variant string, ok bool, err error)

	// SaveAssignment stores the user's variant.
	SaveAssignment(ctx context.Context, userID, experiment, variant string) error
}

// Assigner resolves users to variants. It implements the pipeline's
// VariantResolver contract.
type Assigner struct {
	experiments map[string]Experiment
	store       Store
	logger      *slog.Logger
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithStore sets the persistent assignment store. Without one, assignments
// are purely hash-derived (still deterministic, but weight changes may move
// users between variants).
func WithStore(s Store) Option {
	return func(a *Assigner) {
		a.store = s
	}
}

// WithLogger sets the logger for store failures, which degrade to
// hash-derived assignment.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assigner) {
		a.logger = logger
	}
}

// NewAssigner creates an Assigner for the given experiments.
func NewAssigner(experiments []Experiment, opts ...Option) (*Assigner, error) {
	a := &Assigner{experiments: make(map[string]Experiment, len(experiments))}
	for _, exp := range experiments {
		if exp.Name == "" {
			return nil, errors.New("experiment: experiment name is empty")
		}
		if len(exp.Variants) == 0 {
			return nil, fmt.Errorf("experiment: %q has no variants", exp.Name)
		}
		for _, v := range exp.Variants {
			if v.Name == "" {
				return nil, fmt.Errorf("experiment: %q has an unnamed variant", exp.Name)
			}
			if v.Weight <= 0 {
				return nil, fmt.Errorf("experiment: %q variant %q has non-positive weight", exp.Name, v.Name)
			}
		}
		if _, dup := a.experiments[exp.Name]; dup {
			return nil, fmt.Errorf("experiment: duplicate experiment %q", exp.Name)
		}
		a.experiments[exp.Name] = exp
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Variant resolves the user's variant for the named experiment.
//
// A stored assignment wins if it still names an existing variant. Otherwise
// the variant is derived from the bucket hash and stored best-effort. Store
// failures are logged and never fail the resolution.
func (a *Assigner) Variant(ctx context.Context, userID, experiment string) (string, error) {
	exp, ok := a.experiments[experiment]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownExperiment, experiment)
	}
	if userID == "" {
		return "", errors.New("experiment: user id is empty")
	}

	if a.store != nil {
		stored, ok, err := a.store.Assignment(ctx, userID, experiment)
		switch {
		case err != nil:
			a.log().Warn("assignment lookup failed", "experiment", experiment, "error", err)
		case ok && hasVariant(exp, stored):
			return stored, nil
		}
	}

	variant := Bucket(userID, exp)
	if a.store != nil {
		if err := a.store.SaveAssignment(ctx, userID, experiment, variant); err != nil {
			a.log().Warn("assignment save failed", "experiment", experiment, "error", err)
		}
	}
	return variant, nil
}

// Bucket deterministically maps a user identifier onto one of the
// experiment's variants, proportionally to the variant weights.
func Bucket(userID string, exp Experiment) string {
	var total float64
	for _, v := range exp.Variants {
		total += v.Weight
	}

	h := xxhash.Sum64String(exp.Name + ":" + userID)
	point := float64(h%bucketSpace) / bucketSpace * total

	var cum float64
	for _, v := range exp.Variants {
		cum += v.Weight
		if point < cum {
			return v.Name
		}
	}
	// Floating point accumulation can leave point == total.
	return exp.Variants[len(exp.Variants)-1].Name
}

func hasVariant(exp Experiment, name string) bool {
	for _, v := range exp.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}

func (a *Assigner) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}
