package wallet

import (
	"fmt"
	"math/rand/v2"
)

// RandomSource yields uniform integers in [0, n).
type RandomSource interface {
	IntN(n int) int
}

type globalRandomSource struct{}

func (globalRandomSource) IntN(n int) int {
	return rand.IntN(n)
}

// DurationDraw records how a perk's duration was resolved.
type DurationDraw struct {
	Policy    DurationKind
	DrawnDays int
	FloorDays int
	MaxDays   int
}

// Spinner draws randomized perk durations.
type Spinner struct {
	source RandomSource
}

// NewSpinner returns a Spinner over source; a nil source uses math/rand/v2.
func NewSpinner(source RandomSource) *Spinner {
	if source == nil {
		source = globalRandomSource{}
	}
	return &Spinner{source: source}
}

// WithRandomSource replaces the spin random source.
func WithRandomSource(source RandomSource) ServiceOption {
	return func(service *Service) {
		service.spinner = NewSpinner(source)
	}
}

// SpinFloorDays returns max(minDays, ceil(20% of maxDays)).
func SpinFloorDays(minDays int, maxDays int) int {
	guaranteed := (maxDays*spinFloorPercent + 99) / 100
	if minDays > guaranteed {
		return minDays
	}
	return guaranteed
}

// Draw samples one duration uniformly from [SpinFloorDays(minDays, maxDays), maxDays].
func (spinner *Spinner) Draw(minDays int, maxDays int) (DurationDraw, error) {
	if minDays <= 0 || maxDays < minDays {
		return DurationDraw{}, fmt.Errorf("%w: spin range [%d, %d]", ErrInvalidDurationPolicy, minDays, maxDays)
	}
	floorDays := SpinFloorDays(minDays, maxDays)
	width := maxDays - floorDays + 1
	offset := spinner.source.IntN(width)
	if offset < 0 || offset >= width {
		return DurationDraw{}, fmt.Errorf("%w: %d outside [0, %d)", ErrInvalidRandomSource, offset, width)
	}
	return DurationDraw{
		Policy:    DurationSpin,
		DrawnDays: floorDays + offset,
		FloorDays: floorDays,
		MaxDays:   maxDays,
	}, nil
}

// Resolve returns the granted duration for policy, drawing only for spin perks.
func (spinner *Spinner) Resolve(policy DurationPolicy) (DurationDraw, error) {
	switch policy.Kind() {
	case DurationFixed:
		return DurationDraw{
			Policy:    DurationFixed,
			DrawnDays: policy.FixedDays(),
			FloorDays: policy.FixedDays(),
			MaxDays:   policy.FixedDays(),
		}, nil
	case DurationSpin:
		return spinner.Draw(policy.MinDays(), policy.MaxDays())
	default:
		return DurationDraw{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDurationPolicy, policy.Kind())
	}
}
