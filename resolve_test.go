package redmap

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type playerModel struct {
	Username string `redmap:"username,index"`
	Email    string `redmap:"email,index"`
}

type gameModel struct {
	ID      string      `redmap:"id,pk"`
	Player1 playerModel `redmap:"player1"`
	Player2 playerModel `redmap:"player2"`
	Winner  string      `redmap:"winner,index"`
}

func mustResolve(t *testing.T, s *Schema, n Node, opts ...ResolveOption) *Statement {
	t.Helper()
	st, err := s.Resolve(n, opts...)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return st
}

func TestResolve_NilAndWildcard(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	if st := mustResolve(t, s, nil); st.Query != "*" {
		t.Errorf("nil root = %q, want *", st.Query)
	}
	if st := mustResolve(t, s, All()); st.Query != "*" {
		t.Errorf("All() = %q, want *", st.Query)
	}
}

func TestResolve_Equality(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	tests := []struct {
		name string
		expr Node
		want string
	}{
		{"tag", Equals(F("first_name"), "Kai"), "@first_name:{Kai}"},
		{"tag escaped", Equals(F("first_name"), "Kai Larsen"), `@first_name:{Kai\ Larsen}`},
		{"tag negated", NotEquals(F("first_name"), "Kai"), "-@first_name:{Kai}"},
		{"numeric point range", Equals(F("age"), 42), "@age:[42 42]"},
		{"numeric negated", NotEquals(F("age"), 42), "-@age:[42 42]"},
		{"float", Equals(F("height"), 1.75), "@height:[1.75 1.75]"},
		{"slice tag", Equals(F("skills"), "go"), "@skills:{go}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustResolve(t, s, tc.expr).Query; got != tc.want {
				t.Errorf("query = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_EnumRendersUnderlyingValue(t *testing.T) {
	type status int
	const (
		statusOpen status = iota + 1
		statusDone
	)
	type ticketModel struct {
		ID     string `redmap:"id,pk"`
		Status status `redmap:"status,index"`
	}
	s := MustSchemaOf[ticketModel]()

	st := mustResolve(t, s, Equals(F("status"), statusDone))
	if st.Query != "@status:[2 2]" {
		t.Errorf("query = %q, want @status:[2 2]", st.Query)
	}
}

func TestResolve_CustomSeparatorMembership(t *testing.T) {
	type skillModel struct {
		ID     string   `redmap:"id,pk"`
		Skills []string `redmap:"skills,index,separator=;"`
	}
	s := MustSchemaOf[skillModel]()

	st := mustResolve(t, s, In(F("skills"), "go", "rust"))
	if st.Query != "@skills:{go;rust}" {
		t.Errorf("query = %q, want @skills:{go;rust}", st.Query)
	}
}

func TestResolve_EqualityValueContainingSeparator(t *testing.T) {
	// A tag literal containing the field's separator cannot be escaped into
	// a single token; it is split into separator-joined alternatives so
	// documents indexed under either part still match.
	s := MustSchemaOf[memberModel]()
	st := mustResolve(t, s, Equals(F("first_name"), "a|b"))
	if st.Query != "@first_name:{a|b}" {
		t.Errorf("query = %q, want @first_name:{a|b}", st.Query)
	}
}

func TestResolve_Comparisons(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	tests := []struct {
		name string
		expr Node
		want string
	}{
		{"lt", LessThan(F("age"), 30), "@age:[-inf (30]"},
		{"le", LessOrEqual(F("age"), 30), "@age:[-inf 30]"},
		{"gt", GreaterThan(F("age"), 30), "@age:[(30 +inf]"},
		{"ge", GreaterOrEqual(F("age"), 30), "@age:[30 +inf]"},
		{"between", Between(F("age"), 18, 65), "@age:[18 65]"},
		{"range exclusive low", InRange(F("age"), RangeSpec{GT: 18}), "@age:[(18 +inf]"},
		{"range exclusive both", InRange(F("age"), RangeSpec{GT: 18, LT: 65}), "@age:[(18 (65]"},
		{"range mixed", InRange(F("age"), RangeSpec{GTE: 18, LT: 65}), "@age:[18 (65]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustResolve(t, s, tc.expr).Query; got != tc.want {
				t.Errorf("query = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_ComparisonOnDateTime(t *testing.T) {
	s := MustSchemaOf[memberModel]()
	cutoff := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	st := mustResolve(t, s, GreaterOrEqual(F("joined"), cutoff))
	if st.Query != "@joined:[1709994600 +inf]" {
		t.Errorf("query = %q", st.Query)
	}
}

func TestResolve_RangeConflicts(t *testing.T) {
	s := MustSchemaOf[memberModel]()
	if _, err := s.Resolve(InRange(F("age"), RangeSpec{GT: 1, GTE: 2})); err == nil {
		t.Error("expected error for GT with GTE")
	}
	if _, err := s.Resolve(InRange(F("age"), RangeSpec{LT: 1, LTE: 2})); err == nil {
		t.Error("expected error for LT with LTE")
	}
}

func TestResolve_Membership(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	tests := []struct {
		name string
		expr Node
		want string
	}{
		{"tag set", In(F("first_name"), "Kai", "Noor"), "@first_name:{Kai|Noor}"},
		{"tag set escaped", In(F("first_name"), "a b", "c"), `@first_name:{a\ b|c}`},
		{"tag negated", NotIn(F("first_name"), "Kai", "Noor"), "-(@first_name:{Kai|Noor})"},
		{"numeric single", In(F("age"), 30), "@age:[30 30]"},
		{"numeric set", In(F("age"), 30, 40), "(@age:[30 30]|@age:[40 40])"},
		{"numeric negated", NotIn(F("age"), 30, 40), "-((@age:[30 30]|@age:[40 40]))"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustResolve(t, s, tc.expr).Query; got != tc.want {
				t.Errorf("query = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_EmptyMembershipFails(t *testing.T) {
	s := MustSchemaOf[memberModel]()
	_, err := s.Resolve(In(F("first_name")))
	var e *EmptyMembershipError
	if !errors.As(err, &e) {
		t.Fatalf("expected EmptyMembershipError, got %v", err)
	}
}

func TestResolve_Text(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	st := mustResolve(t, s, Match(F("bio"), "distributed systems"))
	if st.Query != "@bio_fts:(distributed systems)" {
		t.Errorf("query = %q", st.Query)
	}

	// Text match on a field without the full-text projection is refused.
	_, err := s.Resolve(Match(F("first_name"), "Kai"))
	var mismatch *TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
}

func TestResolve_Geo(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	st := mustResolve(t, s, Near(F("location"), 32.43, 34.77, 10, Kilometers))
	if st.Query != "@location:[32.43 34.77 10 km]" {
		t.Errorf("query = %q", st.Query)
	}

	st = mustResolve(t, s, Near(F("location"), 32.43, 34.77, 10, ""))
	if !strings.HasSuffix(st.Query, " km]") {
		t.Errorf("unit should default to km: %q", st.Query)
	}
}

func TestResolve_BooleanComposition(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	tests := []struct {
		name string
		expr Node
		want string
	}{
		{
			"and joins with space",
			And(Equals(F("first_name"), "Kai"), GreaterThan(F("age"), 21)),
			"@first_name:{Kai} @age:[(21 +inf]",
		},
		{
			"or wraps in parens",
			Or(Equals(F("first_name"), "Kai"), Equals(F("first_name"), "Noor")),
			"(@first_name:{Kai}|@first_name:{Noor})",
		},
		{
			"wildcard is and-identity",
			And(All(), Equals(F("first_name"), "Kai")),
			"@first_name:{Kai}",
		},
		{
			"wildcard absorbs or",
			Or(Equals(F("first_name"), "Kai"), All()),
			"*",
		},
		{
			"not wraps group",
			Not(And(Equals(F("first_name"), "Kai"), GreaterThan(F("age"), 21))),
			"-(@first_name:{Kai} @age:[(21 +inf])",
		},
		{
			"nested composition",
			And(
				Or(Equals(F("first_name"), "Kai"), Equals(F("first_name"), "Noor")),
				LessOrEqual(F("age"), 45),
			),
			"(@first_name:{Kai}|@first_name:{Noor}) @age:[-inf 45]",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustResolve(t, s, tc.expr).Query; got != tc.want {
				t.Errorf("query = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_EmbeddedSiblingsStayIsolated(t *testing.T) {
	s, err := SchemaOf[gameModel](AsJSON())
	if err != nil {
		t.Fatal(err)
	}

	st := mustResolve(t, s, And(
		Equals(F("player1").Child("username"), "a"),
		Equals(F("player2").Child("username"), "b"),
	))
	want := "@player1_username:{a} @player2_username:{b}"
	if st.Query != want {
		t.Errorf("query = %q, want %q", st.Query, want)
	}
}

func TestResolve_UnknownField(t *testing.T) {
	s := MustSchemaOf[memberModel]()
	_, err := s.Resolve(Equals(F("no_such"), "x"))
	var unknown *UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownFieldError, got %v", err)
	}
}

func TestResolve_EmbeddedBoundaryIsNotQueryable(t *testing.T) {
	s, err := SchemaOf[gameModel](AsJSON())
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Resolve(Equals(F("player1"), "x"))
	var unknown *UnknownFieldError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownFieldError for embedded boundary, got %v", err)
	}
}

type knnModel struct {
	ID    string    `redmap:"id,pk"`
	Genre string    `redmap:"genre,index"`
	Vec   []float32 `redmap:"vec,index,flat,dim=2"`
}

func TestResolve_KnnWildcardPrefilter(t *testing.T) {
	s := MustSchemaOf[knnModel]()
	st := mustResolve(t, s, Knn(F("vec"), []float32{1, 2}, 5, "score"))

	if st.Query != "*=>[KNN 5 @vec $vec_vec AS score]" {
		t.Errorf("query = %q", st.Query)
	}
	if st.KnnAlias != "score" {
		t.Errorf("knn alias = %q", st.KnnAlias)
	}
	if st.SortBy != "score" {
		t.Errorf("sort should default to the distance alias, got %q", st.SortBy)
	}
	if blob, ok := st.Params["vec_vec"]; !ok || blob != vectorBlob([]float32{1, 2}) {
		t.Errorf("vector param not passed as blob: %q", blob)
	}
}

func TestResolve_KnnPrefilterIsParenthesized(t *testing.T) {
	s := MustSchemaOf[knnModel]()

	st := mustResolve(t, s, And(
		Equals(F("genre"), "jazz"),
		Knn(F("vec"), []float32{1, 2}, 3, "score"),
	))
	if st.Query != "(@genre:{jazz})=>[KNN 3 @vec $vec_vec AS score]" {
		t.Errorf("query = %q", st.Query)
	}

	// An OR pre-filter must bind as a whole, not leak its last operand.
	st = mustResolve(t, s, And(
		Or(Equals(F("genre"), "jazz"), Equals(F("genre"), "blues")),
		Knn(F("vec"), []float32{1, 2}, 3, "score"),
	))
	if st.Query != "((@genre:{jazz}|@genre:{blues}))=>[KNN 3 @vec $vec_vec AS score]" {
		t.Errorf("query = %q", st.Query)
	}
}

func TestResolve_KnnExplicitSortWins(t *testing.T) {
	s := MustSchemaOf[knnModel]()
	st := mustResolve(t, s,
		Knn(F("vec"), []float32{1, 2}, 5, "score"),
		WithSortBy("genre", false),
	)
	if st.SortBy != "genre" {
		t.Errorf("explicit sort should win over the distance alias, got %q", st.SortBy)
	}
}

func TestResolve_KnnPlacementErrors(t *testing.T) {
	s := MustSchemaOf[knnModel]()
	knn := Knn(F("vec"), []float32{1, 2}, 3, "score")

	var placement *KnnPlacementError
	if _, err := s.Resolve(Or(Equals(F("genre"), "jazz"), knn)); !errors.As(err, &placement) {
		t.Errorf("expected KnnPlacementError under Or, got %v", err)
	}
	if _, err := s.Resolve(Not(knn)); !errors.As(err, &placement) {
		t.Errorf("expected KnnPlacementError under Not, got %v", err)
	}
	if _, err := s.Resolve(And(knn, Knn(F("vec"), []float32{3, 4}, 3, "s2"))); err == nil {
		t.Error("expected error for two KNN clauses")
	}
}

func TestResolve_KnnOnNonVectorField(t *testing.T) {
	s := MustSchemaOf[knnModel]()
	_, err := s.Resolve(Knn(F("genre"), []float32{1, 2}, 3, "score"))
	var mismatch *TypeMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected TypeMismatchError, got %v", err)
	}
}

func TestResolve_TypeMismatches(t *testing.T) {
	s := MustSchemaOf[memberModel]()

	tests := []struct {
		name string
		expr Node
	}{
		{"comparison on tag", LessThan(F("first_name"), "x")},
		{"range on tag", Between(F("first_name"), "a", "z")},
		{"membership on geo", In(F("location"), "x")},
		{"equality on geo", Equals(F("location"), "x")},
		{"geo on tag", Near(F("first_name"), 1, 2, 3, Kilometers)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Resolve(tc.expr)
			var mismatch *TypeMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected TypeMismatchError, got %v", err)
			}
		})
	}
}

func TestResolve_SortAndPaging(t *testing.T) {
	s, err := SchemaOf[gameModel](AsJSON())
	if err != nil {
		t.Fatal(err)
	}

	st := mustResolve(t, s, nil,
		WithSortBy("player1.username", true),
		WithPage(20, 10),
	)
	if st.SortBy != "player1_username" {
		t.Errorf("sort path should resolve to the index alias, got %q", st.SortBy)
	}
	if !st.SortDesc {
		t.Error("descending flag lost")
	}
	if st.Offset != 20 || st.Limit != 10 {
		t.Errorf("paging = %d/%d", st.Offset, st.Limit)
	}

	st = mustResolve(t, s, nil)
	if st.Limit != DefaultPageSize {
		t.Errorf("default limit = %d, want %d", st.Limit, DefaultPageSize)
	}
}
