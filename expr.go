package redmap

import (
	"slices"
	"strings"
)

// Field identifies an indexed attribute by its access chain from the model
// root, e.g. F("address.city") or F("player1").Child("username"). A Field
// owns its chain storage; Child and every expression builder copy it, so two
// expressions built from sibling accessors can never alias each other's
// chain.
type Field struct {
	chain []string
}

// F creates a field reference from a dotted path.
func F(path string) Field {
	segs := strings.Split(path, ".")
	return Field{chain: slices.Clone(segs)}
}

// Child returns a reference to a nested attribute of an embedded model.
func (f Field) Child(name string) Field {
	chain := make([]string, 0, len(f.chain)+1)
	chain = append(chain, f.chain...)
	chain = append(chain, name)
	return Field{chain: chain}
}

// Path returns the dotted form of the access chain.
func (f Field) Path() string { return strings.Join(f.chain, ".") }

// fieldRef is the immutable per-node copy of a Field's access chain.
type fieldRef struct {
	chain []string
}

func newFieldRef(f Field) fieldRef {
	return fieldRef{chain: slices.Clone(f.chain)}
}

func (r fieldRef) path() string  { return strings.Join(r.chain, ".") }
func (r fieldRef) alias() string { return strings.Join(r.chain, "_") }

// CompareOp enumerates ordering comparisons on numeric fields.
type CompareOp int

const (
	// OpLT is strictly less than.
	OpLT CompareOp = iota
	// OpLE is less than or equal.
	OpLE
	// OpGT is strictly greater than.
	OpGT
	// OpGE is greater than or equal.
	OpGE
)

// GeoUnit is the distance unit for geo radius queries.
type GeoUnit string

const (
	// Meters unit.
	Meters GeoUnit = "m"
	// Kilometers unit.
	Kilometers GeoUnit = "km"
	// Miles unit.
	Miles GeoUnit = "mi"
	// Feet unit.
	Feet GeoUnit = "ft"
)

// Node is one unit of a query expression tree. Nodes are immutable once
// built and are rendered depth-first by Schema.Resolve.
type Node interface {
	node()
}

type wildcardNode struct{}

type equalityNode struct {
	field   fieldRef
	value   any
	negated bool
}

type comparisonNode struct {
	field fieldRef
	op    CompareOp
	value any
}

type membershipNode struct {
	field   fieldRef
	values  []any
	negated bool
}

// RangeSpec bounds a numeric range. GT/GTE and LT/LTE are mutually
// exclusive per side; a nil side is unbounded.
type RangeSpec struct {
	GT  any
	GTE any
	LT  any
	LTE any
}

type rangeNode struct {
	field fieldRef
	spec  RangeSpec
}

type textNode struct {
	field  fieldRef
	phrase string
}

type geoNode struct {
	field    fieldRef
	lon, lat float64
	radius   float64
	unit     GeoUnit
}

type knnNode struct {
	field  fieldRef
	vector []float32
	k      int
	alias  string
}

type andNode struct{ left, right Node }
type orNode struct{ left, right Node }
type notNode struct{ child Node }

func (wildcardNode) node()   {}
func (equalityNode) node()   {}
func (comparisonNode) node() {}
func (membershipNode) node() {}
func (rangeNode) node()      {}
func (textNode) node()       {}
func (geoNode) node()        {}
func (knnNode) node()        {}
func (andNode) node()        {}
func (orNode) node()         {}
func (notNode) node()        {}

// All matches every document. It is the identity element for And and
// absorbs Or.
func All() Node { return wildcardNode{} }

// Equals matches documents whose field equals value.
func Equals(f Field, value any) Node {
	return equalityNode{field: newFieldRef(f), value: value}
}

// NotEquals matches documents whose field does not equal value.
func NotEquals(f Field, value any) Node {
	return equalityNode{field: newFieldRef(f), value: value, negated: true}
}

// LessThan matches numeric fields strictly below value.
func LessThan(f Field, value any) Node {
	return comparisonNode{field: newFieldRef(f), op: OpLT, value: value}
}

// LessOrEqual matches numeric fields at or below value.
func LessOrEqual(f Field, value any) Node {
	return comparisonNode{field: newFieldRef(f), op: OpLE, value: value}
}

// GreaterThan matches numeric fields strictly above value.
func GreaterThan(f Field, value any) Node {
	return comparisonNode{field: newFieldRef(f), op: OpGT, value: value}
}

// GreaterOrEqual matches numeric fields at or above value.
func GreaterOrEqual(f Field, value any) Node {
	return comparisonNode{field: newFieldRef(f), op: OpGE, value: value}
}

// In matches documents whose field equals any of the candidate values.
func In(f Field, values ...any) Node {
	return membershipNode{field: newFieldRef(f), values: slices.Clone(values)}
}

// NotIn matches documents whose field equals none of the candidate values.
func NotIn(f Field, values ...any) Node {
	return membershipNode{field: newFieldRef(f), values: slices.Clone(values), negated: true}
}

// InRange matches numeric fields inside the given bounds.
func InRange(f Field, spec RangeSpec) Node {
	return rangeNode{field: newFieldRef(f), spec: spec}
}

// Between matches numeric fields in the inclusive interval [low, high].
func Between(f Field, low, high any) Node {
	return rangeNode{field: newFieldRef(f), spec: RangeSpec{GTE: low, LTE: high}}
}

// Match performs a full-text search on a field indexed with full-text
// search enabled.
func Match(f Field, phrase string) Node {
	return textNode{field: newFieldRef(f), phrase: phrase}
}

// Near matches geo fields within radius of the given point.
func Near(f Field, lon, lat, radius float64, unit GeoUnit) Node {
	return geoNode{field: newFieldRef(f), lon: lon, lat: lat, radius: radius, unit: unit}
}

// Knn appends a k-nearest-neighbors clause over a vector field. The rest of
// the expression it is combined with via And becomes the pre-filter; the
// per-document distance is yielded under scoreAlias. A Knn node may only
// appear at the top level of a query, never under Or or Not.
func Knn(f Field, vector []float32, k int, scoreAlias string) Node {
	if scoreAlias == "" {
		scoreAlias = "__" + newFieldRef(f).alias() + "_score"
	}
	return knnNode{
		field:  newFieldRef(f),
		vector: slices.Clone(vector),
		k:      k,
		alias:  scoreAlias,
	}
}

// And combines expressions so that all must match. All() operands are
// elided. With more than two operands the tree folds left.
func And(first Node, rest ...Node) Node {
	n := first
	for _, r := range rest {
		n = andNode{left: n, right: r}
	}
	return n
}

// Or combines expressions so that at least one must match. An All() operand
// absorbs the whole alternation.
func Or(first Node, rest ...Node) Node {
	n := first
	for _, r := range rest {
		n = orNode{left: n, right: r}
	}
	return n
}

// Not negates an expression. Equality and membership negate in place;
// anything else is wrapped in a negation group.
func Not(n Node) Node {
	switch v := n.(type) {
	case equalityNode:
		v.negated = !v.negated
		return v
	case membershipNode:
		v.negated = !v.negated
		return v
	case notNode:
		return v.child
	default:
		return notNode{child: n}
	}
}
