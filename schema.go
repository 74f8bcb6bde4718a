package redmap

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kailas-cloud/redmap/internal/db"
)

const tagKey = "redmap"

// DefaultSeparator joins multi-value tag fields unless a field overrides it.
// The primary key always uses it, overrides notwithstanding.
const DefaultSeparator = "|"

// FieldType is the semantic type tag derived from a model attribute's
// declared Go type.
type FieldType int

const (
	// TypeString is a plain string attribute.
	TypeString FieldType = iota
	// TypeBool is a boolean attribute.
	TypeBool
	// TypeInt covers all integer kinds, including named enum types.
	TypeInt
	// TypeFloat covers float32/float64.
	TypeFloat
	// TypeDateTime is a time.Time attribute, stored as epoch seconds.
	TypeDateTime
	// TypeBytes is a []byte attribute, stored base64-encoded.
	TypeBytes
	// TypeGeo is a Coordinates attribute.
	TypeGeo
	// TypeVector is a []float32 attribute indexed for KNN search.
	TypeVector
	// TypeStringSlice is a []string attribute packed into one tag field.
	TypeStringSlice
	// TypeEmbedded marks an embedded-model boundary.
	TypeEmbedded
	// TypeUnknown is any type with no mapping rule; it falls back to TAG.
	TypeUnknown
)

// IndexKind is which secondary-index structure backs a field.
type IndexKind int

const (
	// KindTag is an exact-match tag index.
	KindTag IndexKind = iota
	// KindNumeric is a numeric range index.
	KindNumeric
	// KindText is a full-text index.
	KindText
	// KindGeo is a geo index.
	KindGeo
	// KindVector is a vector similarity index.
	KindVector
)

// indexKindOf is the pure declared-type → index-kind table. The full-text
// flag adds a TEXT projection on top of TAG; it never replaces it.
func indexKindOf(t FieldType) IndexKind {
	switch t {
	case TypeInt, TypeFloat, TypeDateTime:
		return KindNumeric
	case TypeGeo:
		return KindGeo
	case TypeVector:
		return KindVector
	default:
		// Deliberate permissive fallback: anything unrecognized indexes as TAG.
		return KindTag
	}
}

// FieldSpec is the per-attribute descriptor derived once from a model type.
type FieldSpec struct {
	Name  string   // leaf attribute name
	Path  []string // full access chain from the model root
	Alias string   // underscore-joined chain; the FT attribute alias

	Type          FieldType
	Kind          IndexKind
	FullText      bool // string field indexed as TAG and TEXT simultaneously
	Separator     string
	Sortable      bool
	CaseSensitive bool

	PrimaryKey bool
	Indexed    bool
	Optional   bool

	VectorDim      int
	VectorAlgo     db.VectorAlgorithm
	VectorDistance db.DistanceMetric
	VectorM        int
	VectorEF       int

	goIndex []int // reflect field index path from the root struct
}

// TextAlias is the FT alias of the TEXT projection of a full-text field.
func (f *FieldSpec) TextAlias() string { return f.Alias + "_fts" }

func (f *FieldSpec) jsonPath() string {
	p := "$." + strings.Join(f.Path, ".")
	if f.Type == TypeStringSlice {
		p += "[*]"
	}
	return p
}

// Schema holds the descriptors derived from one model type. It is built
// once per model and read-only afterwards, safe for concurrent use.
type Schema struct {
	typ        reflect.Type
	name       string
	storage    db.StorageType
	defaultSep string
	fields     []*FieldSpec
	byPath     map[string]*FieldSpec
	pk         *FieldSpec
}

// SchemaOption customizes schema derivation.
type SchemaOption func(*schemaConfig)

type schemaConfig struct {
	storage    db.StorageType
	defaultSep string
	name       string
}

// AsJSON stores models as JSON documents instead of hashes. Only JSON
// storage supports embedded models.
func AsJSON() SchemaOption {
	return func(c *schemaConfig) { c.storage = db.StorageJSON }
}

// WithDefaultSeparator overrides the model-wide tag separator.
func WithDefaultSeparator(sep string) SchemaOption {
	return func(c *schemaConfig) { c.defaultSep = sep }
}

// WithModelName overrides the model name derived from the struct type.
func WithModelName(name string) SchemaOption {
	return func(c *schemaConfig) { c.name = name }
}

// SchemaOf reflects on T and derives one descriptor per leaf attribute,
// plus one per embedded-model boundary. T must be a struct with a string
// primary-key field tagged `redmap:"...,pk"`.
func SchemaOf[T any](opts ...SchemaOption) (*Schema, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("redmap: type %v is not a struct", reflect.TypeOf(zero))
	}

	cfg := &schemaConfig{storage: db.StorageHash, defaultSep: DefaultSeparator, name: t.Name()}
	for _, o := range opts {
		o(cfg)
	}

	s := &Schema{
		typ:        t,
		name:       cfg.name,
		storage:    cfg.storage,
		defaultSep: cfg.defaultSep,
		byPath:     make(map[string]*FieldSpec),
	}

	if err := s.addStruct(t, nil, nil); err != nil {
		return nil, err
	}
	if s.pk == nil {
		return nil, fmt.Errorf("%w: %s has no field tagged `%s:\"...,pk\"`", ErrMissingPrimaryKey, t, tagKey)
	}
	return s, nil
}

// MustSchemaOf is SchemaOf that panics on error, for package-level model
// declarations.
func MustSchemaOf[T any](opts ...SchemaOption) *Schema {
	s, err := SchemaOf[T](opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the model name.
func (s *Schema) Name() string { return s.name }

// Storage returns the storage backend (HASH or JSON).
func (s *Schema) Storage() db.StorageType { return s.storage }

// PrimaryKey returns the primary-key descriptor.
func (s *Schema) PrimaryKey() *FieldSpec { return s.pk }

// Fields returns all descriptors in declaration order.
func (s *Schema) Fields() []*FieldSpec { return s.fields }

// FieldByPath looks up a descriptor by dotted access path.
func (s *Schema) FieldByPath(path string) (*FieldSpec, bool) {
	f, ok := s.byPath[path]
	return f, ok
}

// addStruct walks one struct level, prefixing nested descriptors with the
// parent chain.
func (s *Schema) addStruct(t reflect.Type, chain []string, goIndex []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get(tagKey)
		if tag == "-" {
			continue
		}

		name, rawOpts := splitTag(tag)
		if name == "" {
			name = toSnake(sf.Name)
		}

		idx := make([]int, 0, len(goIndex)+1)
		idx = append(idx, goIndex...)
		idx = append(idx, i)

		if err := s.addField(sf, name, rawOpts, chain, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) addField(sf reflect.StructField, name string, rawOpts []string, chain []string, goIndex []int) error {
	opts, err := parseFieldOptions(rawOpts)
	if err != nil {
		return fmt.Errorf("redmap: field %s: %w", sf.Name, err)
	}

	ft := sf.Type
	optional := false
	if ft.Kind() == reflect.Pointer {
		optional = true
		ft = ft.Elem()
	}

	path := make([]string, 0, len(chain)+1)
	path = append(path, chain...)
	path = append(path, name)

	if isEmbeddedModel(ft) {
		if s.storage != db.StorageJSON {
			return fmt.Errorf("redmap: field %s: embedded model %s requires JSON storage", sf.Name, ft)
		}
		boundary := &FieldSpec{
			Name:      name,
			Path:      path,
			Alias:     strings.Join(path, "_"),
			Type:      TypeEmbedded,
			Kind:      KindTag,
			Separator: s.defaultSep,
			Optional:  optional,
			goIndex:   slices.Clone(goIndex),
		}
		s.register(boundary)
		return s.addStruct(ft, path, goIndex)
	}

	declared := declaredTypeOf(ft)
	if opts.fullText && declared != TypeString {
		return fmt.Errorf("redmap: field %s: full_text_search requires a string type, got %s", sf.Name, ft)
	}
	if declared == TypeVector && opts.indexed() && opts.vectorDim <= 0 {
		return fmt.Errorf("redmap: field %s: indexed vector requires dim=N", sf.Name)
	}

	rootPK := opts.pk && len(chain) == 0

	sep := s.defaultSep
	if opts.separator != "" {
		sep = opts.separator
	}
	if rootPK {
		// The primary key keeps the fixed default separator even when the
		// model or the field declares another one.
		sep = DefaultSeparator
	}

	spec := &FieldSpec{
		Name:          name,
		Path:          path,
		Alias:         strings.Join(path, "_"),
		Type:          declared,
		Kind:          indexKindOf(declared),
		FullText:      opts.fullText,
		Separator:     sep,
		Sortable:      opts.sortable,
		CaseSensitive: opts.caseSensitive,
		PrimaryKey:    rootPK,
		Indexed:       opts.indexed(),
		Optional:      optional,
		goIndex:       slices.Clone(goIndex),
	}

	if declared == TypeVector {
		spec.VectorDim = opts.vectorDim
		spec.VectorAlgo = opts.vectorAlgo
		spec.VectorDistance = opts.vectorDistance
		spec.VectorM = opts.vectorM
		spec.VectorEF = opts.vectorEF
	}

	if rootPK {
		if declared != TypeString {
			return fmt.Errorf("redmap: field %s: primary key must be a string, got %s", sf.Name, ft)
		}
		if s.pk != nil {
			return fmt.Errorf("redmap: duplicate primary key on field %s", sf.Name)
		}
		s.pk = spec
	}

	s.register(spec)
	return nil
}

func (s *Schema) register(spec *FieldSpec) {
	s.fields = append(s.fields, spec)
	s.byPath[strings.Join(spec.Path, ".")] = spec
}

// IndexDefinition builds the FT.CREATE definition for this model. keyPrefix
// is the key namespace the index should cover, e.g. "myapp:Member:".
func (s *Schema) IndexDefinition(indexName, keyPrefix string) *db.IndexDefinition {
	def := &db.IndexDefinition{
		Name:        indexName,
		StorageType: s.storage,
		Prefixes:    []string{keyPrefix},
	}

	for _, f := range s.fields {
		if !f.Indexed || f.Type == TypeEmbedded {
			continue
		}

		var name, alias string
		if s.storage == db.StorageJSON {
			name = f.jsonPath()
			alias = f.Alias
		} else {
			name = f.Name
		}

		fld := db.IndexField{Name: name, Alias: alias, Sortable: f.Sortable}
		switch f.Kind {
		case KindNumeric:
			fld.Type = db.IndexFieldNumeric
		case KindGeo:
			fld.Type = db.IndexFieldGeo
		case KindVector:
			fld.Type = db.IndexFieldVector
			fld.VectorDim = f.VectorDim
			fld.VectorAlgo = f.VectorAlgo
			fld.VectorDistance = f.VectorDistance
			fld.VectorM = f.VectorM
			fld.VectorEFConstruct = f.VectorEF
		default:
			fld.Type = db.IndexFieldTag
			fld.TagSeparator = f.Separator
			fld.TagCaseSensitive = f.CaseSensitive
		}
		def.Fields = append(def.Fields, fld)

		if f.FullText {
			def.Fields = append(def.Fields, db.IndexField{
				Name:  name,
				Alias: f.TextAlias(),
				Type:  db.IndexFieldText,
			})
		}
	}

	return def
}

// --- struct tag options ---

type fieldOptions struct {
	pk            bool
	index         bool
	sortable      bool
	fullText      bool
	caseSensitive bool
	separator     string

	vectorDim      int
	vectorAlgo     db.VectorAlgorithm
	vectorDistance db.DistanceMetric
	vectorM        int
	vectorEF       int
}

// indexed reports whether the field participates in the FT schema. The
// primary key and full-text fields are always indexed.
func (o fieldOptions) indexed() bool { return o.index || o.pk || o.fullText }

func parseFieldOptions(raw []string) (fieldOptions, error) {
	opts := fieldOptions{
		vectorAlgo:     db.VectorFlat,
		vectorDistance: db.DistanceCosine,
	}
	for _, o := range raw {
		key, val, hasVal := strings.Cut(o, "=")
		switch key {
		case "pk":
			opts.pk = true
		case "index":
			opts.index = true
		case "sortable":
			opts.sortable = true
			opts.index = true
		case "full_text_search":
			opts.fullText = true
		case "casesensitive":
			opts.caseSensitive = true
		case "separator":
			if !hasVal || val == "" {
				return opts, fmt.Errorf("separator option requires a value")
			}
			opts.separator = val
		case "dim":
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("invalid dim %q", val)
			}
			opts.vectorDim = n
			opts.index = true
		case "flat":
			opts.vectorAlgo = db.VectorFlat
		case "hnsw":
			opts.vectorAlgo = db.VectorHNSW
		case "distance":
			switch m := db.DistanceMetric(strings.ToUpper(val)); m {
			case db.DistanceCosine, db.DistanceL2, db.DistanceIP:
				opts.vectorDistance = m
			default:
				return opts, fmt.Errorf("unknown distance metric %q", val)
			}
		case "m":
			n, err := strconv.Atoi(val)
			if err != nil {
				return opts, fmt.Errorf("invalid m %q", val)
			}
			opts.vectorM = n
		case "ef":
			n, err := strconv.Atoi(val)
			if err != nil {
				return opts, fmt.Errorf("invalid ef %q", val)
			}
			opts.vectorEF = n
		case "":
			// trailing comma
		default:
			return opts, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

func splitTag(tag string) (string, []string) {
	if tag == "" {
		return "", nil
	}
	parts := strings.Split(tag, ",")
	return parts[0], parts[1:]
}

// toSnake converts a Go field name to snake_case.
func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	coordsType = reflect.TypeOf(Coordinates{})
)

func isEmbeddedModel(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType && t != coordsType
}

// declaredTypeOf maps a Go type to its semantic type tag.
func declaredTypeOf(t reflect.Type) FieldType {
	switch t {
	case timeType:
		return TypeDateTime
	case coordsType:
		return TypeGeo
	}

	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Bool:
		return TypeBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInt
	case reflect.Float32, reflect.Float64:
		return TypeFloat
	case reflect.Slice:
		switch t.Elem().Kind() {
		case reflect.Uint8:
			return TypeBytes
		case reflect.Float32:
			return TypeVector
		case reflect.String:
			return TypeStringSlice
		}
		return TypeUnknown
	default:
		return TypeUnknown
	}
}

// fieldValueAlloc walks like fieldValue but allocates intermediate nil
// pointers on the way, returning a settable leaf value.
func (s *Schema) fieldValueAlloc(rv reflect.Value, spec *FieldSpec) reflect.Value {
	v := rv
	for _, i := range spec.goIndex {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// fieldValue walks the reflect index path of spec inside a model value,
// dereferencing optional pointers. ok is false when a nil pointer sits on
// the path.
func (s *Schema) fieldValue(rv reflect.Value, spec *FieldSpec) (reflect.Value, bool) {
	v := rv
	for _, i := range spec.goIndex {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}
