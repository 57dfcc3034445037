package isam

import (
	"fmt"

	"github.com/phuslu/log"
)

// Defaults used when an option is not given.
const (
	DefaultPageSize          = 4
	DefaultOverflowThreshold = 0.5
	DefaultDeletionThreshold = 0.3
	DefaultFillFactor        = 1.0
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	pageSize          int
	overflowThreshold float64
	deletionThreshold float64
	fillFactor        float64
	autoReorganize    bool
	fresh             bool
	logger            *log.Logger
}

func defaultOptions() options {
	return options{
		pageSize:          DefaultPageSize,
		overflowThreshold: DefaultOverflowThreshold,
		deletionThreshold: DefaultDeletionThreshold,
		fillFactor:        DefaultFillFactor,
	}
}

func (o options) validate() error {
	if o.pageSize < 1 {
		return fmt.Errorf("page size must be positive, got %d", o.pageSize)
	}
	if o.overflowThreshold <= 0 || o.overflowThreshold > 1 {
		return fmt.Errorf("overflow threshold must be in (0, 1], got %g", o.overflowThreshold)
	}
	if o.deletionThreshold <= 0 || o.deletionThreshold > 1 {
		return fmt.Errorf("deletion threshold must be in (0, 1], got %g", o.deletionThreshold)
	}
	if o.fillFactor <= 0 || o.fillFactor > 1 {
		return fmt.Errorf("fill factor must be in (0, 1], got %g", o.fillFactor)
	}
	return nil
}

// WithPageSize sets the number of records per page. It applies to a new
// store only; an existing store keeps the page size it was created with.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithOverflowThreshold sets the overflow ratio that triggers reorganization.
func WithOverflowThreshold(v float64) Option {
	return func(o *options) { o.overflowThreshold = v }
}

// WithDeletionThreshold sets the deletion ratio that triggers reorganization.
func WithDeletionThreshold(v float64) Option {
	return func(o *options) { o.deletionThreshold = v }
}

// WithFillFactor sets the share of each primary page filled by
// reorganization. Free slots absorb later inserts without overflowing.
func WithFillFactor(v float64) Option {
	return func(o *options) { o.fillFactor = v }
}

// WithAutoReorganize enables reorganization before mutating operations
// once a threshold is reached.
func WithAutoReorganize(enabled bool) Option {
	return func(o *options) { o.autoReorganize = enabled }
}

// WithFresh removes existing files before opening.
func WithFresh(enabled bool) Option {
	return func(o *options) { o.fresh = enabled }
}

// WithLogger sets the engine logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}
