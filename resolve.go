package redmap

import (
	"fmt"
	"strings"
)

// DefaultPageSize is the result window used when no explicit pagination is
// requested.
const DefaultPageSize = 10

// Statement is a fully resolved query: the FT.SEARCH query string plus the
// sort and pagination directives and any query parameters (vector blobs).
type Statement struct {
	Query    string
	Params   map[string]string
	SortBy   string
	SortDesc bool
	Offset   int
	Limit    int
	KnnAlias string // distance alias when the query carries a KNN clause
}

// ResolveOption adjusts the sort/pagination directives of a Statement.
type ResolveOption func(*Statement)

// WithSortBy sorts results by the given field path.
func WithSortBy(path string, desc bool) ResolveOption {
	return func(st *Statement) {
		st.SortBy = path
		st.SortDesc = desc
	}
}

// WithPage selects a result window.
func WithPage(offset, limit int) ResolveOption {
	return func(st *Statement) {
		st.Offset = offset
		st.Limit = limit
	}
}

// TypeMismatchError reports an operation applied to a field whose index
// kind cannot serve it.
type TypeMismatchError struct {
	Field     string
	Kind      IndexKind
	Operation string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("redmap: cannot apply %s to field %s (index kind %s)",
		e.Operation, e.Field, kindName(e.Kind))
}

// EmptyMembershipError reports an In/NotIn with no candidate values. Whether
// that should match nothing or everything is ambiguous, so it is refused.
type EmptyMembershipError struct {
	Field string
}

func (e *EmptyMembershipError) Error() string {
	return fmt.Sprintf("redmap: membership on field %s has no candidate values", e.Field)
}

// UnknownFieldError reports a field path with no descriptor.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("redmap: unknown field %s", e.Field)
}

// KnnPlacementError reports a KNN clause nested where it cannot render.
type KnnPlacementError struct {
	Context string
}

func (e *KnnPlacementError) Error() string {
	return fmt.Sprintf("redmap: KNN clause cannot appear under %s; combine it at the top level with And", e.Context)
}

func kindName(k IndexKind) string {
	switch k {
	case KindNumeric:
		return "NUMERIC"
	case KindText:
		return "TEXT"
	case KindGeo:
		return "GEO"
	case KindVector:
		return "VECTOR"
	default:
		return "TAG"
	}
}

// Resolve renders an expression tree into a query string, depth-first. The
// resolver trusts tree shape for precedence: And joins with implicit
// whitespace, Or always parenthesizes. A KNN clause is lifted out of the
// top-level And spine; whatever remains becomes its parenthesized
// pre-filter.
func (s *Schema) Resolve(root Node, opts ...ResolveOption) (*Statement, error) {
	st := &Statement{Limit: DefaultPageSize}
	for _, o := range opts {
		o(st)
	}

	if root == nil {
		root = wildcardNode{}
	}

	pre, knn, err := extractKnn(root)
	if err != nil {
		return nil, err
	}

	r := &resolver{schema: s}
	q, err := r.render(pre)
	if err != nil {
		return nil, err
	}

	if knn != nil {
		spec, err := r.lookup(knn.field)
		if err != nil {
			return nil, err
		}
		if spec.Kind != KindVector {
			return nil, &TypeMismatchError{Field: knn.field.path(), Kind: spec.Kind, Operation: "KNN search"}
		}
		// The pre-filter is always wrapped so the KNN arrow binds to the
		// whole filter, not to the last OR operand.
		if q != "*" {
			q = "(" + q + ")"
		}
		param := knn.field.alias() + "_vec"
		q = fmt.Sprintf("%s=>[KNN %d @%s $%s AS %s]", q, knn.k, spec.Alias, param, knn.alias)
		if r.params == nil {
			r.params = make(map[string]string, 1)
		}
		r.params[param] = vectorBlob(knn.vector)
		st.KnnAlias = knn.alias
		if st.SortBy == "" {
			st.SortBy = knn.alias
		}
	}

	st.Query = q
	st.Params = r.params

	// Sort paths resolve through the schema to index aliases; names with no
	// descriptor (such as a KNN distance alias) pass through untouched.
	if st.SortBy != "" {
		if spec, ok := s.byPath[st.SortBy]; ok {
			st.SortBy = spec.Alias
		}
	}

	return st, nil
}

// extractKnn lifts a single KNN node off the top-level And spine, replacing
// it with the wildcard. KNN under Or or Not is refused.
func extractKnn(n Node) (Node, *knnNode, error) {
	switch v := n.(type) {
	case knnNode:
		return wildcardNode{}, &v, nil
	case andNode:
		left, kl, err := extractKnn(v.left)
		if err != nil {
			return nil, nil, err
		}
		right, kr, err := extractKnn(v.right)
		if err != nil {
			return nil, nil, err
		}
		if kl != nil && kr != nil {
			return nil, nil, fmt.Errorf("redmap: query has more than one KNN clause")
		}
		k := kl
		if k == nil {
			k = kr
		}
		return andNode{left: left, right: right}, k, nil
	case orNode:
		if containsKnn(v.left) || containsKnn(v.right) {
			return nil, nil, &KnnPlacementError{Context: "Or"}
		}
		return n, nil, nil
	case notNode:
		if containsKnn(v.child) {
			return nil, nil, &KnnPlacementError{Context: "Not"}
		}
		return n, nil, nil
	default:
		return n, nil, nil
	}
}

func containsKnn(n Node) bool {
	switch v := n.(type) {
	case knnNode:
		return true
	case andNode:
		return containsKnn(v.left) || containsKnn(v.right)
	case orNode:
		return containsKnn(v.left) || containsKnn(v.right)
	case notNode:
		return containsKnn(v.child)
	default:
		return false
	}
}

type resolver struct {
	schema *Schema
	params map[string]string
}

func (r *resolver) lookup(ref fieldRef) (*FieldSpec, error) {
	spec, ok := r.schema.byPath[ref.path()]
	if !ok || spec.Type == TypeEmbedded {
		return nil, &UnknownFieldError{Field: ref.path()}
	}
	return spec, nil
}

func (r *resolver) render(n Node) (string, error) {
	switch v := n.(type) {
	case wildcardNode:
		return "*", nil

	case andNode:
		left, err := r.render(v.left)
		if err != nil {
			return "", err
		}
		right, err := r.render(v.right)
		if err != nil {
			return "", err
		}
		// Wildcard is the And identity.
		if left == "*" {
			return right, nil
		}
		if right == "*" {
			return left, nil
		}
		return left + " " + right, nil

	case orNode:
		left, err := r.render(v.left)
		if err != nil {
			return "", err
		}
		right, err := r.render(v.right)
		if err != nil {
			return "", err
		}
		// Wildcard absorbs Or.
		if left == "*" || right == "*" {
			return "*", nil
		}
		return "(" + left + "|" + right + ")", nil

	case notNode:
		child, err := r.render(v.child)
		if err != nil {
			return "", err
		}
		if child == "*" {
			return child, nil
		}
		return "-(" + child + ")", nil

	case equalityNode:
		return r.renderEquality(v)

	case comparisonNode:
		return r.renderComparison(v)

	case membershipNode:
		return r.renderMembership(v)

	case rangeNode:
		return r.renderRange(v)

	case textNode:
		return r.renderText(v)

	case geoNode:
		return r.renderGeo(v)

	case knnNode:
		// extractKnn leaves no KNN nodes behind; seeing one means the tree
		// was assembled outside the builders.
		return "", &KnnPlacementError{Context: "a nested expression"}

	default:
		return "", fmt.Errorf("redmap: unsupported expression node %T", n)
	}
}

func (r *resolver) renderEquality(n equalityNode) (string, error) {
	spec, err := r.lookup(n.field)
	if err != nil {
		return "", err
	}

	lit, err := encodeLiteral(spec, n.value)
	if err != nil {
		return "", err
	}

	var clause string
	switch spec.Kind {
	case KindNumeric:
		clause = fmt.Sprintf("@%s:[%s %s]", spec.Alias, lit, lit)
	case KindTag:
		clause = fmt.Sprintf("@%s:{%s}", spec.Alias, tagLiteral(spec, lit))
	default:
		return "", &TypeMismatchError{Field: n.field.path(), Kind: spec.Kind, Operation: "equality"}
	}

	if n.negated {
		clause = "-" + clause
	}
	return clause, nil
}

// tagLiteral escapes a single tag value. A value containing the field's
// separator is split and re-joined so documents indexed under either part
// still match.
func tagLiteral(spec *FieldSpec, lit string) string {
	sep := spec.Separator
	if sep == "" {
		sep = DefaultSeparator
	}
	if !strings.Contains(lit, sep) {
		return escapeTagValue(lit, sep)
	}
	parts := strings.Split(lit, sep)
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		escaped = append(escaped, escapeTagValue(p, sep))
	}
	return strings.Join(escaped, sep)
}

func (r *resolver) renderComparison(n comparisonNode) (string, error) {
	spec, err := r.lookup(n.field)
	if err != nil {
		return "", err
	}
	if spec.Kind != KindNumeric {
		return "", &TypeMismatchError{Field: n.field.path(), Kind: spec.Kind, Operation: "comparison"}
	}

	lit, err := encodeLiteral(spec, n.value)
	if err != nil {
		return "", err
	}

	switch n.op {
	case OpLT:
		return fmt.Sprintf("@%s:[-inf (%s]", spec.Alias, lit), nil
	case OpLE:
		return fmt.Sprintf("@%s:[-inf %s]", spec.Alias, lit), nil
	case OpGT:
		return fmt.Sprintf("@%s:[(%s +inf]", spec.Alias, lit), nil
	case OpGE:
		return fmt.Sprintf("@%s:[%s +inf]", spec.Alias, lit), nil
	default:
		return "", fmt.Errorf("redmap: unknown comparison operator %d", n.op)
	}
}

func (r *resolver) renderMembership(n membershipNode) (string, error) {
	spec, err := r.lookup(n.field)
	if err != nil {
		return "", err
	}
	if len(n.values) == 0 {
		return "", &EmptyMembershipError{Field: n.field.path()}
	}

	var clause string
	switch spec.Kind {
	case KindTag:
		sep := spec.Separator
		if sep == "" {
			sep = DefaultSeparator
		}
		parts := make([]string, len(n.values))
		for i, v := range n.values {
			lit, err := encodeLiteral(spec, v)
			if err != nil {
				return "", err
			}
			parts[i] = escapeTagValue(lit, sep)
		}
		clause = fmt.Sprintf("@%s:{%s}", spec.Alias, strings.Join(parts, sep))

	case KindNumeric:
		// NUMERIC fields have no brace-set syntax; membership is the OR of
		// point ranges.
		parts := make([]string, len(n.values))
		for i, v := range n.values {
			lit, err := encodeLiteral(spec, v)
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("@%s:[%s %s]", spec.Alias, lit, lit)
		}
		if len(parts) == 1 {
			clause = parts[0]
		} else {
			clause = "(" + strings.Join(parts, "|") + ")"
		}

	default:
		return "", &TypeMismatchError{Field: n.field.path(), Kind: spec.Kind, Operation: "membership"}
	}

	if n.negated {
		clause = "-(" + clause + ")"
	}
	return clause, nil
}

func (r *resolver) renderRange(n rangeNode) (string, error) {
	spec, err := r.lookup(n.field)
	if err != nil {
		return "", err
	}
	if spec.Kind != KindNumeric {
		return "", &TypeMismatchError{Field: n.field.path(), Kind: spec.Kind, Operation: "range"}
	}

	if n.spec.GT != nil && n.spec.GTE != nil {
		return "", fmt.Errorf("redmap: range on %s specifies both GT and GTE", n.field.path())
	}
	if n.spec.LT != nil && n.spec.LTE != nil {
		return "", fmt.Errorf("redmap: range on %s specifies both LT and LTE", n.field.path())
	}

	low := "-inf"
	if n.spec.GT != nil {
		lit, err := encodeLiteral(spec, n.spec.GT)
		if err != nil {
			return "", err
		}
		low = "(" + lit
	} else if n.spec.GTE != nil {
		lit, err := encodeLiteral(spec, n.spec.GTE)
		if err != nil {
			return "", err
		}
		low = lit
	}

	high := "+inf"
	if n.spec.LT != nil {
		lit, err := encodeLiteral(spec, n.spec.LT)
		if err != nil {
			return "", err
		}
		high = "(" + lit
	} else if n.spec.LTE != nil {
		lit, err := encodeLiteral(spec, n.spec.LTE)
		if err != nil {
			return "", err
		}
		high = lit
	}

	return fmt.Sprintf("@%s:[%s %s]", spec.Alias, low, high), nil
}

func (r *resolver) renderText(n textNode) (string, error) {
	spec, err := r.lookup(n.field)
	if err != nil {
		return "", err
	}
	if !spec.FullText && spec.Kind != KindText {
		return "", &TypeMismatchError{Field: n.field.path(), Kind: spec.Kind, Operation: "full-text match"}
	}

	alias := spec.Alias
	if spec.FullText {
		alias = spec.TextAlias()
	}
	return fmt.Sprintf("@%s:(%s)", alias, EscapeText(n.phrase)), nil
}

func (r *resolver) renderGeo(n geoNode) (string, error) {
	spec, err := r.lookup(n.field)
	if err != nil {
		return "", err
	}
	if spec.Kind != KindGeo {
		return "", &TypeMismatchError{Field: n.field.path(), Kind: spec.Kind, Operation: "geo radius"}
	}

	unit := n.unit
	if unit == "" {
		unit = Kilometers
	}
	return fmt.Sprintf("@%s:[%s %s %s %s]",
		spec.Alias,
		formatFloat(n.lon, 64), formatFloat(n.lat, 64),
		formatFloat(n.radius, 64), unit), nil
}
