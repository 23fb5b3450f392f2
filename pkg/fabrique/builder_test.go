package fabrique

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/fabrique/pkg/analysis"
	"github.com/conduit-lang/fabrique/pkg/schema"
)

var (
	u32      = schema.TypeRef{Name: "uint32"}
	str      = schema.TypeRef{Name: "string"}
	uuidType = schema.TypeRef{Name: "UUID", Package: "github.com/google/uuid"}
)

// ledger is the connection of the recording persister: it remembers
// every record handed to Create, in order
type ledger struct {
	created []string
	records []Record
	failOn  map[string]error
}

type recordingPersister struct{}

func (recordingPersister) Create(_ context.Context, conn *ledger, model *schema.AnalysisOutput, rec Record) (Record, error) {
	if err := conn.failOn[model.Name()]; err != nil {
		return nil, err
	}
	conn.created = append(conn.created, model.Name())
	conn.records = append(conn.records, rec.Clone())
	return rec, nil
}

func (recordingPersister) All(_ context.Context, conn *ledger, model *schema.AnalysisOutput) ([]Record, error) {
	var records []Record
	for i, name := range conn.created {
		if name == model.Name() {
			records = append(records, conn.records[i])
		}
	}
	return records, nil
}

func relation(target string) []schema.AnnotationGroup {
	return []schema.AnnotationGroup{{schema.Ident("relation", target)}}
}

func testFactory(t *testing.T, opts ...Option) *Factory[*ledger] {
	t.Helper()

	registry, err := analysis.AnalyzeAll([]schema.RecordShape{
		{
			Name:   "Hammer",
			Fields: []schema.FieldDecl{{Name: "id", Type: u32}, {Name: "weight", Type: u32}},
		},
		{
			Name:   "Tongs",
			Fields: []schema.FieldDecl{{Name: "serial", Type: str}},
		},
		{
			Name: "Anvil",
			Fields: []schema.FieldDecl{
				{Name: "hammer_id", Type: u32, Annotations: relation("Hammer")},
				{Name: "weight", Type: u32},
			},
		},
		{
			Name: "Forge",
			Fields: []schema.FieldDecl{
				{Name: "id", Type: uuidType},
				{Name: "tongs_serial", Type: str, Annotations: relation("Tongs")},
				{Name: "anvil_weight", Type: u32, Annotations: relation("Anvil")},
			},
		},
	})
	require.NoError(t, err)

	return NewFactory[*ledger](registry, recordingPersister{}, opts...)
}

func TestBuilder_DefaultRoundTrip(t *testing.T) {
	f := testFactory(t)
	conn := &ledger{}

	anvil, err := f.MustBuilder("Anvil").Create(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, Record{"hammer_id": uint32(0), "weight": uint32(0)}, anvil)

	forge, err := f.MustBuilder("Forge").Create(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, Record{"id": uuid.Nil, "tongs_serial": "", "anvil_weight": uint32(0)}, forge)

	// no callback, so nothing related was created
	assert.Equal(t, []string{"Anvil", "Forge"}, conn.created)
}

func TestBuilder_RelationFirst(t *testing.T) {
	f := testFactory(t)
	conn := &ledger{}

	anvil, err := f.MustBuilder("Anvil").
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] {
			return h.Set("id", 100)
		}).
		Create(context.Background(), conn)
	require.NoError(t, err)

	assert.Equal(t, Record{"hammer_id": uint32(100), "weight": uint32(0)}, anvil)
	assert.Equal(t, []string{"Hammer", "Anvil"}, conn.created)
	assert.Equal(t, Record{"id": uint32(100), "weight": uint32(0)}, conn.records[0])
}

func TestBuilder_ExplicitFieldVersusRelation(t *testing.T) {
	f := testFactory(t)

	t.Run("explicit value without callback", func(t *testing.T) {
		anvil, err := f.MustBuilder("Anvil").Set("hammer_id", uint32(7)).Create(context.Background(), &ledger{})
		require.NoError(t, err)
		assert.Equal(t, uint32(7), anvil["hammer_id"])
	})

	t.Run("callback overwrites explicit value", func(t *testing.T) {
		anvil, err := f.MustBuilder("Anvil").
			Set("hammer_id", uint32(7)).
			For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 9) }).
			Create(context.Background(), &ledger{})
		require.NoError(t, err)
		assert.Equal(t, uint32(9), anvil["hammer_id"])
	})

	t.Run("callback overwrites value set after it", func(t *testing.T) {
		anvil, err := f.MustBuilder("Anvil").
			For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 9) }).
			Set("hammer_id", uint32(7)).
			Create(context.Background(), &ledger{})
		require.NoError(t, err)
		assert.Equal(t, uint32(9), anvil["hammer_id"])
	})
}

func TestBuilder_LastCallbackWins(t *testing.T) {
	f := testFactory(t)
	conn := &ledger{}

	anvil, err := f.MustBuilder("Anvil").
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 1) }).
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 2) }).
		Create(context.Background(), conn)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), anvil["hammer_id"])
	assert.Equal(t, []string{"Hammer", "Anvil"}, conn.created, "only one related record is created")
}

func TestBuilder_NilCallbackClears(t *testing.T) {
	f := testFactory(t)
	conn := &ledger{}

	_, err := f.MustBuilder("Anvil").
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 1) }).
		For("hammer", nil).
		Create(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"Anvil"}, conn.created)
}

func TestBuilder_NestedRelationsInFieldOrder(t *testing.T) {
	f := testFactory(t)
	conn := &ledger{}

	forge, err := f.MustBuilder("Forge").
		For("anvil", func(a Builder[*ledger]) Builder[*ledger] {
			return a.
				Set("weight", 250).
				For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 3) })
		}).
		For("tongs", func(tg Builder[*ledger]) Builder[*ledger] { return tg.Set("serial", "T-1") }).
		Create(context.Background(), conn)
	require.NoError(t, err)

	// tongs_serial is declared before anvil_weight
	assert.Equal(t, []string{"Tongs", "Hammer", "Anvil", "Forge"}, conn.created)
	assert.Equal(t, "T-1", forge["tongs_serial"])
	assert.Equal(t, uint32(250), forge["anvil_weight"])
}

func TestBuilder_FailureShortCircuits(t *testing.T) {
	f := testFactory(t)
	boom := errors.New("tongs table is locked")
	conn := &ledger{failOn: map[string]error{"Tongs": boom}}

	called := false
	_, err := f.MustBuilder("Forge").
		For("tongs", func(tg Builder[*ledger]) Builder[*ledger] { return tg }).
		For("anvil", func(a Builder[*ledger]) Builder[*ledger] {
			called = true
			return a
		}).
		Create(context.Background(), conn)

	assert.Same(t, boom, err, "persistence errors are returned unchanged")
	assert.False(t, called, "later relations are not resolved")
	assert.Empty(t, conn.created)
}

func TestBuilder_PersistErrorPropagates(t *testing.T) {
	f := testFactory(t)
	boom := errors.New("disk full")
	conn := &ledger{failOn: map[string]error{"Anvil": boom}}

	_, err := f.MustBuilder("Anvil").
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h }).
		Create(context.Background(), conn)

	assert.Same(t, boom, err)
	assert.Equal(t, []string{"Hammer"}, conn.created, "no rollback of related records")
}

func TestBuilder_IsAValue(t *testing.T) {
	f := testFactory(t)

	base := f.MustBuilder("Anvil").Set("weight", 10)
	heavy := base.Set("weight", 500)
	withHammer := base.For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 4) })

	rec, err := base.Make()
	require.NoError(t, err)
	assert.Equal(t, uint32(10), rec["weight"])

	rec, err = heavy.Make()
	require.NoError(t, err)
	assert.Equal(t, uint32(500), rec["weight"])

	conn := &ledger{}
	_, err = base.Create(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"Anvil"}, conn.created, "base builder has no pending callback")

	conn = &ledger{}
	_, err = withHammer.Create(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hammer", "Anvil"}, conn.created)
}

func TestBuilder_Make(t *testing.T) {
	f := testFactory(t)

	rec, err := f.MustBuilder("Anvil").
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 1) }).
		Make()
	require.NoError(t, err)
	assert.Equal(t, Record{"hammer_id": uint32(0), "weight": uint32(0)}, rec)
}

func TestBuilder_Misuse(t *testing.T) {
	f := testFactory(t)

	t.Run("unknown field", func(t *testing.T) {
		b := f.MustBuilder("Anvil").Set("colour", "black").Set("weight", 3)
		assert.ErrorIs(t, b.Err(), ErrUnknownField)

		_, err := b.Create(context.Background(), &ledger{})
		assert.ErrorIs(t, err, ErrUnknownField)
	})

	t.Run("unknown relation", func(t *testing.T) {
		_, err := f.MustBuilder("Anvil").
			For("tongs", func(b Builder[*ledger]) Builder[*ledger] { return b }).
			Make()
		assert.ErrorIs(t, err, ErrUnknownRelation)
	})

	t.Run("ill-typed value", func(t *testing.T) {
		_, err := f.MustBuilder("Anvil").Set("weight", "heavy").Make()
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("overflowing value", func(t *testing.T) {
		_, err := f.MustBuilder("Anvil").Set("weight", -1).Make()
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("zero builder from callback", func(t *testing.T) {
		conn := &ledger{}
		_, err := f.MustBuilder("Anvil").
			For("hammer", func(Builder[*ledger]) Builder[*ledger] { return Builder[*ledger]{} }).
			Create(context.Background(), conn)
		assert.ErrorIs(t, err, ErrForeignBuilder)
		assert.EqualError(t, err, ErrForeignBuilder.Error()+": Anvil.hammer")
		assert.Empty(t, conn.created)
	})

	t.Run("builder of another record from callback", func(t *testing.T) {
		conn := &ledger{}
		_, err := f.MustBuilder("Anvil").
			For("hammer", func(Builder[*ledger]) Builder[*ledger] { return f.MustBuilder("Tongs") }).
			Create(context.Background(), conn)
		assert.ErrorIs(t, err, ErrForeignBuilder)
		assert.Empty(t, conn.created, "the foreign record is not persisted")
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := f.Builder("Bellows")
		assert.ErrorIs(t, err, ErrUnknownRecord)
		assert.Panics(t, func() { f.MustBuilder("Bellows") })
	})
}

func TestBuilder_SetAll(t *testing.T) {
	f := testFactory(t)

	rec, err := f.MustBuilder("Hammer").SetAll(Record{"id": 5, "weight": 12.0}).Make()
	require.NoError(t, err)
	assert.Equal(t, Record{"id": uint32(5), "weight": uint32(12)}, rec)

	// the first invalid field in name order is reported
	for range 20 {
		_, err := f.MustBuilder("Hammer").SetAll(Record{"weight": "heavy", "id": "one", "zinc": 1}).Make()
		require.ErrorIs(t, err, ErrInvalidValue)
		assert.ErrorContains(t, err, "Hammer.id:")
	}
}

func TestFactory_All(t *testing.T) {
	f := testFactory(t)
	conn := &ledger{}

	_, err := f.MustBuilder("Hammer").Set("id", 1).Create(context.Background(), conn)
	require.NoError(t, err)
	_, err = f.MustBuilder("Anvil").Create(context.Background(), conn)
	require.NoError(t, err)

	hammers, err := f.All(context.Background(), conn, "Hammer")
	require.NoError(t, err)
	assert.Len(t, hammers, 1)

	_, err = f.All(context.Background(), conn, "Bellows")
	assert.ErrorIs(t, err, ErrUnknownRecord)
}

func TestFactory_LogsRelations(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := testFactory(t, WithLogger(zap.New(core)))

	_, err := f.MustBuilder("Anvil").
		For("hammer", func(h Builder[*ledger]) Builder[*ledger] { return h.Set("id", 8) }).
		Create(context.Background(), &ledger{})
	require.NoError(t, err)

	resolved := logs.FilterMessage("resolved relation").All()
	require.Len(t, resolved, 1)
	assert.Equal(t, "hammer", resolved[0].ContextMap()["relation"])
	assert.Equal(t, 2, logs.FilterMessage("persisting record").Len())
}
