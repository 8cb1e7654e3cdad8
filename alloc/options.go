package alloc

import "go.uber.org/zap"

const (
	// DefaultClassBase is the threshold of heap size class 0.
	DefaultClassBase = 16 << 10
	// DefaultClasses is the number of heap size classes.
	DefaultClasses = 16
	// DefaultPageScale is the page size of a class as a multiple of its threshold.
	DefaultPageScale = 4
)

type options struct {
	logger       *zap.Logger
	thrash       bool
	trackOrigins bool
	classBase    int
	classes      int
	pageScale    int
}

// Option configures an allocator.
type Option func(*options)

func buildOptions(opts []Option) options {
	o := options{
		logger:    zap.NewNop(),
		classBase: DefaultClassBase,
		classes:   DefaultClasses,
		pageScale: DefaultPageScale,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// WithLogger sets the logger used for growth events and leak reports.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithThrash overwrites freed memory with a sentinel pattern so that
// use-after-free shows up as garbage instead of plausible data.
func WithThrash(enabled bool) Option {
	return func(o *options) {
		o.thrash = enabled
	}
}

// WithOriginTracking records a stack trace for every allocation so leak
// reports can name the caller that forgot to free.
func WithOriginTracking(enabled bool) Option {
	return func(o *options) {
		o.trackOrigins = enabled
	}
}

// WithClassBase sets the heap threshold of size class 0. Class i targets
// allocations below base << i.
func WithClassBase(base int) Option {
	return func(o *options) {
		o.classBase = base
	}
}

// WithClasses sets the number of heap size classes (at most MaxClasses).
func WithClasses(n int) Option {
	return func(o *options) {
		o.classes = n
	}
}

// WithPageScale sets the page size of each heap class as a multiple of the
// class threshold.
func WithPageScale(scale int) Option {
	return func(o *options) {
		o.pageScale = scale
	}
}

const thrashByte = 0xDD

func thrash(b []byte) {
	for i := range b {
		b[i] = thrashByte
	}
}
