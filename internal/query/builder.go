package query

// SingleBuilder assembles a Single predicate.
type SingleBuilder struct{ q Single }

// NewSingle starts a Single predicate over the default (wildcard) collection.
func NewSingle() *SingleBuilder { return &SingleBuilder{} }

// WithCollection restricts the predicate to one collection.
func (b *SingleBuilder) WithCollection(collection string) *SingleBuilder {
	b.q.Collection = collection
	return b
}

// WithUsecase sets the required usecase tag.
func (b *SingleBuilder) WithUsecase(usecase string) *SingleBuilder {
	b.q.Usecase = usecase
	return b
}

// Build returns the predicate.
func (b *SingleBuilder) Build() Single { return b.q }

// CompoundBuilder assembles a Compound node; children keep insertion order.
type CompoundBuilder struct{ q Compound }

// NewCompound starts an And node with no children.
func NewCompound() *CompoundBuilder { return &CompoundBuilder{q: Compound{Type: And}} }

// WithType sets the operator.
func (b *CompoundBuilder) WithType(t Type) *CompoundBuilder {
	b.q.Type = t
	return b
}

// WithQuery appends a child.
func (b *CompoundBuilder) WithQuery(q Query) *CompoundBuilder {
	b.q.Queries = append(b.q.Queries, q)
	return b
}

// Build returns the node. The builder must not be reused afterwards.
func (b *CompoundBuilder) Build() Compound { return b.q }
