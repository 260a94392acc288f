package recall

import (
	"context"
	"testing"

	"github.com/memori-go/memori/internal/embedding"
	"github.com/memori-go/memori/internal/storage"
)

type fakeDriver struct {
	embeddings []storage.EmbeddingRow
	facts      map[int64]string
}

func (d *fakeDriver) Dialect() storage.Dialect                                     { return storage.DialectSQLite }
func (d *fakeDriver) RequiresRollbackOnError() bool                                { return false }
func (d *fakeDriver) EntityCreate(string) (int64, error)                          { return 0, nil }
func (d *fakeDriver) ProcessCreate(string) (int64, error)                         { return 0, nil }
func (d *fakeDriver) SessionCreate(string, *int64, *int64) (int64, error)         { return 0, nil }
func (d *fakeDriver) ConversationCreate(int64, int) (int64, error)                { return 0, nil }
func (d *fakeDriver) ConversationReadSummary(int64) (string, error)               { return "", nil }
func (d *fakeDriver) ConversationUpdateSummary(int64, string) error               { return nil }
func (d *fakeDriver) ConversationMessageCreate(int64, string, *string, string) error {
	return nil
}
func (d *fakeDriver) ConversationMessagesRead(int64) ([]storage.ConversationMessage, error) {
	return nil, nil
}
func (d *fakeDriver) EntityFactCreate(int64, []storage.FactInput) error { return nil }
func (d *fakeDriver) EntityFactGetEmbeddings(int64, int) ([]storage.EmbeddingRow, error) {
	return d.embeddings, nil
}
func (d *fakeDriver) EntityFactGetByIDs(ids []int64) ([]storage.FactRow, error) {
	out := make([]storage.FactRow, 0, len(ids))
	for _, id := range ids {
		out = append(out, storage.FactRow{ID: id, Content: d.facts[id]})
	}
	return out, nil
}
func (d *fakeDriver) KnowledgeGraphCreate(int64, []storage.Triple) error      { return nil }
func (d *fakeDriver) ProcessAttributeCreate(int64, []storage.FactInput) error { return nil }
func (d *fakeDriver) SchemaVersionRead() (int, error)                        { return 0, nil }
func (d *fakeDriver) SchemaVersionCreate(int) error                          { return nil }
func (d *fakeDriver) SchemaVersionDelete() error                             { return nil }

type fixedModel struct{ vec []float32 }

func (f fixedModel) Name() string   { return "fixed" }
func (f fixedModel) Dimension() int { return len(f.vec) }
func (f fixedModel) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestSearchFactsRanksAndFiltersByThreshold(t *testing.T) {
	d := &fakeDriver{
		embeddings: []storage.EmbeddingRow{
			{ID: 1, Embedding: embedding.Pack([]float32{1, 0})},  // similarity 1.0
			{ID: 2, Embedding: embedding.Pack([]float32{0, 1})},  // similarity 0.0, filtered
		},
		facts: map[int64]string{1: "likes tea", 2: "likes coffee"},
	}
	svc := embedding.NewService()
	svc.Register("fixed", func() (embedding.Model, error) { return fixedModel{vec: []float32{1, 0}}, nil })

	e := NewEngine(d, svc)
	e.ModelName = "fixed"

	facts, err := e.SearchFacts(context.Background(), "what do I drink", 42)
	if err != nil {
		t.Fatalf("search facts: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "likes tea" {
		t.Fatalf("expected only the high-similarity fact to survive, got %+v", facts)
	}
}

func TestSearchFactsNoEntityReturnsNil(t *testing.T) {
	d := &fakeDriver{}
	svc := embedding.NewService()
	e := NewEngine(d, svc)

	facts, err := e.SearchFacts(context.Background(), "hello", 0)
	if err != nil || facts != nil {
		t.Fatalf("expected nil, nil for unset entity, got %+v, %v", facts, err)
	}
}

func TestAddendumFormat(t *testing.T) {
	got := Addendum([]Fact{{Content: "likes tea"}, {Content: "lives in Berlin"}})
	want := "<memori_context>\n" +
		"Only use the relevant context if it is relevant to the user's query.\n" +
		"Relevant context about the user:\n" +
		"- likes tea\n" +
		"- lives in Berlin\n" +
		"</memori_context>"
	if got != want {
		t.Fatalf("unexpected addendum:\n%s\nwant:\n%s", got, want)
	}
}

func TestAddendumEmptyWhenNoFacts(t *testing.T) {
	if got := Addendum(nil); got != "" {
		t.Fatalf("expected empty addendum for no facts, got %q", got)
	}
}
