package deadlock

// schedOptions holds resolved configuration for a scheduler run.
type schedOptions struct {
	logger        Logger
	metrics       *Metrics
	queueCapacity uint32
	graphExport   bool
	osThreads     bool
}

// Option configures a scheduler started by Main or MainN.
type Option interface {
	apply(*schedOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*schedOptions) error
}

func (o *optionImpl) apply(opts *schedOptions) error {
	return o.applyFunc(opts)
}

// WithQueueCapacity sets the per-worker deque capacity. The capacity must
// be a power of two, at least 2; the default is 8192. Submissions beyond
// capacity are not dropped — they execute inline on the submitter's stack —
// so raise this when task functions cannot tolerate reentrancy.
func WithQueueCapacity(capacity uint32) Option {
	return &optionImpl{func(opts *schedOptions) error {
		if capacity < 2 || capacity&(capacity-1) != 0 {
			return ErrQueueCapacity
		}
		opts.queueCapacity = capacity
		return nil
	}}
}

// WithLogger installs a structured logger for scheduler lifecycle events.
// The default discards everything. See NewLogifaceLogger.
func WithLogger(l Logger) Option {
	return &optionImpl{func(opts *schedOptions) error {
		if l != nil {
			opts.logger = l
		}
		return nil
	}}
}

// WithMetrics attaches a runtime counter collector to the scheduler. The
// collector is sized for the pool during initialization; read it with
// Metrics.Snapshot once Main returns.
func WithMetrics(m *Metrics) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.metrics = m
		return nil
	}}
}

// WithGraphExport enables the task graph recorder. When enabled, a task may
// call Worker.GraphFork to begin recording per-invocation spans and edges,
// and Worker.GraphJoin to dump them for offline visualization. Disabled,
// the hooks cost a nil check per invocation.
func WithGraphExport(enabled bool) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.graphExport = enabled
		return nil
	}}
}

// WithOSThreads pins each worker goroutine to its own OS thread for the
// duration of the run. Useful when task functions rely on thread-local
// state such as cgo libraries; unnecessary otherwise.
func WithOSThreads(enabled bool) Option {
	return &optionImpl{func(opts *schedOptions) error {
		opts.osThreads = enabled
		return nil
	}}
}

// resolveOptions applies Option instances over the defaults.
func resolveOptions(opts []Option) (*schedOptions, error) {
	cfg := &schedOptions{
		logger:        NoOpLogger{},
		queueCapacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
