package fabrique

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// Builder misuse errors
var (
	ErrUnknownRecord   = errors.New("unknown record")
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownRelation = errors.New("unknown relation")
	ErrInvalidValue    = errors.New("invalid field value")
	ErrMissingKey      = errors.New("related record is missing its referenced key")
	ErrForeignBuilder  = errors.New("relation callback returned a builder of another record")
)

// Option configures a Factory
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Factory creates builders for the records of a registry
type Factory[C any] struct {
	registry  *schema.Registry
	persister Persister[C]
	logger    *zap.Logger

	mu        sync.Mutex
	contracts map[*schema.AnalysisOutput]*synth.Contract
}

// NewFactory creates a factory over the given registry and persister
func NewFactory[C any](registry *schema.Registry, persister Persister[C], opts ...Option) *Factory[C] {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	return &Factory[C]{
		registry:  registry,
		persister: persister,
		logger:    o.logger,
		contracts: make(map[*schema.AnalysisOutput]*synth.Contract),
	}
}

// Registry returns the registry the factory builds from
func (f *Factory[C]) Registry() *schema.Registry {
	return f.registry
}

// Builder returns an empty builder for the named record
func (f *Factory[C]) Builder(record string) (Builder[C], error) {
	model, ok := f.registry.Get(record)
	if !ok {
		return Builder[C]{}, fmt.Errorf("%w: %s", ErrUnknownRecord, record)
	}

	return Builder[C]{
		factory:  f,
		model:    model,
		contract: f.contract(model),
	}, nil
}

// MustBuilder is like Builder but panics if the record is unknown
func (f *Factory[C]) MustBuilder(record string) Builder[C] {
	b, err := f.Builder(record)
	if err != nil {
		panic(err)
	}
	return b
}

// All returns every stored record of the named record type
func (f *Factory[C]) All(ctx context.Context, conn C, record string) ([]Record, error) {
	model, ok := f.registry.Get(record)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, record)
	}
	return f.persister.All(ctx, conn, model)
}

func (f *Factory[C]) contract(model *schema.AnalysisOutput) *synth.Contract {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.contracts[model]; ok {
		return c
	}
	c := synth.Synthesize(model)
	f.contracts[model] = c
	return c
}
