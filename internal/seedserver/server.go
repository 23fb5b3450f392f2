// Package seedserver exposes a factory over HTTP so test suites written in
// other languages can seed a database through the same builders.
//
//	GET  /records           contracts of every record
//	GET  /records/{record}  every stored record
//	POST /records/{record}  create one record
//
// A create request sets fields and customizes relations, recursively:
//
//	{"set": {"label": "a"}, "for": {"hammer": {"set": {"weight": 12}}}}
package seedserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/synth"
)

// Option configures a handler
type Option func(*options)

type options struct {
	logger *zap.Logger
	tokens *Tokens
}

// WithLogger logs every request at info level
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTokens requires a bearer token issued by tokens on every request
func WithTokens(tokens *Tokens) Option {
	return func(o *options) {
		o.tokens = tokens
	}
}

// MaxRequestBytes bounds the body of a create request
const MaxRequestBytes = 1 << 20

// CreateRequest is the body of POST /records/{record}
type CreateRequest struct {
	Set map[string]any            `json:"set"`
	For map[string]*CreateRequest `json:"for"`
}

// Contract describes one record's builder
type Contract struct {
	Record  string   `json:"record"`
	Table   string   `json:"table"`
	Builder string   `json:"builder"`
	Fields  []string `json:"fields"`
	Hooks   []Hook   `json:"hooks,omitempty"`
}

// Hook describes one relation of a record
type Hook struct {
	Relation      string `json:"relation"`
	Record        string `json:"record"`
	OwnerField    string `json:"owner_field"`
	ReferencedKey string `json:"referenced_key"`
}

type handler[C any] struct {
	factory *fabrique.Factory[C]
	conn    C
	logger  *zap.Logger
}

// NewHandler routes seed requests to factory, persisting through conn
func NewHandler[C any](factory *fabrique.Factory[C], conn C, opts ...Option) http.Handler {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	h := &handler[C]{factory: factory, conn: conn, logger: o.logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(o.logger))
	if o.tokens != nil {
		r.Use(requireToken(o.tokens))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		renderError(w, http.StatusNotFound, fmt.Errorf("no such route"))
	})

	r.Route("/records", func(r chi.Router) {
		r.Get("/", h.contracts)
		r.Get("/{record}", h.list)
		r.Post("/{record}", h.create)
	})

	return r
}

func (h *handler[C]) contracts(w http.ResponseWriter, _ *http.Request) {
	registry := h.factory.Registry()

	var out []Contract
	for _, name := range registry.List() {
		model, _ := registry.Get(name)
		c := synth.Synthesize(model)

		contract := Contract{
			Record:  c.Record,
			Table:   c.Table,
			Builder: c.Builder,
			Fields:  model.Columns(),
		}
		for _, hook := range c.Hooks {
			contract.Hooks = append(contract.Hooks, Hook{
				Relation:      hook.BaseName,
				Record:        hook.RelatedRecord,
				OwnerField:    hook.OwnerField,
				ReferencedKey: hook.ReferencedKey,
			})
		}
		out = append(out, contract)
	}

	renderJSON(w, http.StatusOK, out)
}

func (h *handler[C]) list(w http.ResponseWriter, r *http.Request) {
	records, err := h.factory.All(r.Context(), h.conn, chi.URLParam(r, "record"))
	if err != nil {
		renderError(w, statusFor(err), err)
		return
	}
	if records == nil {
		records = []fabrique.Record{}
	}
	renderJSON(w, http.StatusOK, records)
}

func (h *handler[C]) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		renderError(w, status, fmt.Errorf("invalid request body: %w", err))
		return
	}

	b, err := h.factory.Builder(chi.URLParam(r, "record"))
	if err != nil {
		renderError(w, statusFor(err), err)
		return
	}

	b, err = Apply(h.factory, b, &req)
	if err != nil {
		renderError(w, statusFor(err), err)
		return
	}

	rec, err := b.Create(r.Context(), h.conn)
	if err != nil {
		h.logger.Warn("seed failed", zap.String("record", b.Record()), zap.Error(err))
		renderError(w, statusFor(err), err)
		return
	}

	renderJSON(w, http.StatusCreated, rec)
}

// Apply configures b from a create request. Values arrive as decoded JSON
// and are converted to each field's type; relation requests become For
// callbacks applied to the related builder.
func Apply[C any](factory *fabrique.Factory[C], b fabrique.Builder[C], req *CreateRequest) (fabrique.Builder[C], error) {
	if req == nil {
		return b, nil
	}

	model, ok := factory.Registry().Get(b.Record())
	if !ok {
		return b, fmt.Errorf("%w: %s", fabrique.ErrUnknownRecord, b.Record())
	}

	for _, name := range slices.Sorted(maps.Keys(req.Set)) {
		raw := req.Set[name]
		field, ok := model.Field(name)
		if !ok {
			return b, fmt.Errorf("%w: %s.%s", fabrique.ErrUnknownField, model.Name(), name)
		}

		v, err := jsonValue(field.Decl.Type, raw)
		if err != nil {
			return b, fmt.Errorf("%s.%s: %w", model.Name(), name, err)
		}
		b = b.Set(name, v)
	}

	for _, base := range slices.Sorted(maps.Keys(req.For)) {
		nested := req.For[base]
		related, err := relatedBuilder(factory, model, base)
		if err != nil {
			return b, err
		}
		// checked up front so a bad nested value fails before anything is created
		if _, err := Apply(factory, related, nested); err != nil {
			return b, err
		}

		b = b.For(base, func(h fabrique.Builder[C]) fabrique.Builder[C] {
			applied, err := Apply(factory, h, nested)
			if err != nil {
				return h.Fail(err)
			}
			return applied
		})
	}

	return b, b.Err()
}

func relatedBuilder[C any](factory *fabrique.Factory[C], model *schema.AnalysisOutput, base string) (fabrique.Builder[C], error) {
	for _, rel := range model.Relations() {
		if rel.BaseName == base {
			return factory.Builder(rel.RelatedType)
		}
	}
	return fabrique.Builder[C]{}, fmt.Errorf("%w: %s.%s", fabrique.ErrUnknownRelation, model.Name(), base)
}

func jsonValue(typ schema.TypeRef, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: null", fabrique.ErrInvalidValue)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		return v.Float64()
	case string:
		switch typ.Zero().(type) {
		case string, nil:
			return v, nil
		}
		return fabrique.ParseValue(typ, v)
	default:
		return v, nil
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// ListenAndServe serves handler on addr until ctx is done, then shuts down
// gracefully
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	logger.Info("seed server listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
