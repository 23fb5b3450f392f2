// Package redisstore persists dynamically built records in Redis.
//
// Each record is a JSON document under <prefix>:{<table>}:<key>, where key
// is the primary key (composite keys joined with ":") or, for tables
// without one, a number drawn from the table sequence. Insertion order is
// kept in the list <prefix>:{<table>}:ids. The table is the hash tag so a
// table's keys share a cluster slot.
package redisstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/fabrique/pkg/fabrique"
	"github.com/conduit-lang/fabrique/pkg/schema"
	"github.com/conduit-lang/fabrique/pkg/store"
)

// DefaultPrefix namespaces every key written by a Persister
const DefaultPrefix = "fabrique"

// ErrDuplicateKey is returned when a record with the same primary key exists
var ErrDuplicateKey = errors.New("duplicate primary key")

// Conn is satisfied by *redis.Client and *redis.ClusterClient
type Conn = redis.UniversalClient

// insert stores the document only if the key is free, then appends it to
// the id list
var insert = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") then
	redis.call("RPUSH", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Option configures a Persister
type Option func(*Persister)

// WithPrefix sets the key namespace, DefaultPrefix by default
func WithPrefix(prefix string) Option {
	return func(p *Persister) {
		p.prefix = prefix
	}
}

// WithLogger logs every write at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(p *Persister) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Persister stores records as JSON documents
type Persister struct {
	prefix string
	logger *zap.Logger
}

var _ fabrique.Persister[Conn] = (*Persister)(nil)

// New creates a Persister
func New(opts ...Option) *Persister {
	p := &Persister{prefix: DefaultPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Create stores rec. Integer primary keys left at zero are drawn from the
// table sequence; UUID and string keys get a random UUID.
func (p *Persister) Create(ctx context.Context, conn Conn, model *schema.AnalysisOutput, rec fabrique.Record) (fabrique.Record, error) {
	stored := rec.Clone()
	if stored == nil {
		stored = fabrique.Record{}
	}

	for _, name := range model.PrimaryKeys() {
		if !fabrique.IsZero(stored[name]) {
			continue
		}
		field, _ := model.Field(name)
		key, err := p.generateKey(ctx, conn, model.Table(), field.Decl.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model.Name(), name, err)
		}
		stored[name] = key
	}

	id, err := p.recordID(ctx, conn, model, stored)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", model.Name(), err)
	}

	key := p.key(model.Table(), id)
	p.logger.Debug("insert", zap.String("record", model.Name()), zap.String("key", key))

	ok, err := insert.Run(ctx, conn, []string{key, p.key(model.Table(), "ids")}, payload, id).Bool()
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", model.Name(), err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to insert %s: %w: %s", model.Name(), ErrDuplicateKey, id)
	}

	return stored, nil
}

// All returns the stored records of the model in insertion order
func (p *Persister) All(ctx context.Context, conn Conn, model *schema.AnalysisOutput) ([]fabrique.Record, error) {
	ids, err := conn.LRange(ctx, p.key(model.Table(), "ids"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", model.Table(), err)
	}

	records := make([]fabrique.Record, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.key(model.Table(), id)
	}

	docs, err := conn.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", model.Table(), err)
	}

	for i, doc := range docs {
		s, ok := doc.(string)
		if !ok {
			// removed behind our back
			continue
		}
		rec, err := decodeRecord(model, []byte(s))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keys[i], err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// Truncate removes every stored record of the model and resets its sequence
func (p *Persister) Truncate(ctx context.Context, conn Conn, model *schema.AnalysisOutput) error {
	idsKey := p.key(model.Table(), "ids")
	ids, err := conn.LRange(ctx, idsKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", model.Table(), err)
	}

	keys := []string{idsKey, p.key(model.Table(), "seq")}
	for _, id := range ids {
		keys = append(keys, p.key(model.Table(), id))
	}

	if err := conn.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", model.Table(), err)
	}
	return nil
}

func (p *Persister) key(table, suffix string) string {
	return fmt.Sprintf("%s:{%s}:%s", p.prefix, table, suffix)
}

func (p *Persister) recordID(ctx context.Context, conn Conn, model *schema.AnalysisOutput, rec fabrique.Record) (string, error) {
	keys := model.PrimaryKeys()
	if len(keys) == 0 {
		n, err := conn.Incr(ctx, p.key(model.Table(), "seq")).Result()
		if err != nil {
			return "", fmt.Errorf("failed to allocate %s id: %w", model.Name(), err)
		}
		return fmt.Sprint(n), nil
	}

	parts := make([]string, len(keys))
	for i, name := range keys {
		parts[i] = fmt.Sprint(rec[name])
	}
	return strings.Join(parts, ":"), nil
}

func (p *Persister) generateKey(ctx context.Context, conn Conn, table string, typ schema.TypeRef) (any, error) {
	switch {
	case typ.IsInteger():
		n, err := conn.Incr(ctx, p.key(table, "seq")).Result()
		if err != nil {
			return nil, err
		}
		return fabrique.Coerce(typ, n)
	case typ.IsUUID():
		return uuid.New(), nil
	case typ.Name == "string" && typ.Package == "" && !typ.Pointer:
		return uuid.NewString(), nil
	default:
		return nil, fmt.Errorf("cannot generate a primary key of type %s", typ)
	}
}

func decodeRecord(model *schema.AnalysisOutput, payload []byte) (fabrique.Record, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", model.Name(), err)
	}

	rec := make(fabrique.Record, len(model.Fields()))
	for _, field := range model.Fields() {
		v, err := decodeValue(field.Decl.Type, doc[field.Name()])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", model.Name(), field.Name(), err)
		}
		rec[field.Name()] = v
	}
	return rec, nil
}

func decodeValue(typ schema.TypeRef, raw any) (any, error) {
	switch v := raw.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return store.Decode(typ, n)
		}
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return store.Decode(typ, f)
	case string:
		// encoding/json writes byte slices as base64
		if _, ok := typ.Zero().([]byte); ok {
			return base64.StdEncoding.DecodeString(v)
		}
	}
	return store.Decode(typ, raw)
}
