package redmap

import (
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Coordinates is a geographic point. It encodes as "lon,lat".
type Coordinates struct {
	Longitude float64
	Latitude  float64
}

// DecodeError reports a stored representation that cannot be parsed back
// into a field's declared type.
type DecodeError struct {
	Field string
	Raw   string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("redmap: decode field %s from %q: %v", e.Field, e.Raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// encodeValue renders one model field as its index-safe string
// representation. A nil optional encodes as the empty sentinel.
func encodeValue(spec *FieldSpec, v reflect.Value) (string, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	switch spec.Type {
	case TypeString:
		return v.String(), nil
	case TypeBool:
		return strconv.FormatBool(v.Bool()), nil
	case TypeInt:
		if isUnsigned(v.Kind()) {
			return strconv.FormatUint(v.Uint(), 10), nil
		}
		return strconv.FormatInt(v.Int(), 10), nil
	case TypeFloat:
		return formatFloat(v.Float(), v.Type().Bits()), nil
	case TypeDateTime:
		t, ok := v.Interface().(time.Time)
		if !ok {
			return "", fmt.Errorf("redmap: field %s: expected time.Time, got %s", spec.Alias, v.Type())
		}
		return strconv.FormatInt(t.UTC().Unix(), 10), nil
	case TypeBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes()), nil
	case TypeGeo:
		c, ok := v.Interface().(Coordinates)
		if !ok {
			return "", fmt.Errorf("redmap: field %s: expected Coordinates, got %s", spec.Alias, v.Type())
		}
		return geoLiteral(c), nil
	case TypeVector:
		vec, ok := v.Interface().([]float32)
		if !ok {
			return "", fmt.Errorf("redmap: field %s: expected []float32, got %s", spec.Alias, v.Type())
		}
		return vectorBlob(vec), nil
	case TypeStringSlice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = v.Index(i).String()
		}
		return strings.Join(parts, spec.Separator), nil
	default:
		return fmt.Sprint(v.Interface()), nil
	}
}

// decodeValue parses a stored representation back into a model field.
// The empty sentinel decodes to nil for optional fields rather than failing.
func decodeValue(spec *FieldSpec, raw string, target reflect.Value) error {
	if target.Kind() == reflect.Pointer {
		if raw == "" {
			target.SetZero()
			return nil
		}
		elem := reflect.New(target.Type().Elem())
		if err := decodeValue(spec, raw, elem.Elem()); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	}

	fail := func(err error) error {
		return &DecodeError{Field: spec.Alias, Raw: raw, Err: err}
	}

	switch spec.Type {
	case TypeString:
		target.SetString(raw)
	case TypeBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fail(err)
		}
		target.SetBool(b)
	case TypeInt:
		if isUnsigned(target.Kind()) {
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fail(err)
			}
			target.SetUint(n)
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fail(err)
		}
		target.SetInt(n)
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fail(err)
		}
		target.SetFloat(f)
	case TypeDateTime:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fail(err)
		}
		target.Set(reflect.ValueOf(time.Unix(n, 0).UTC()))
	case TypeBytes:
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return fail(err)
		}
		target.SetBytes(data)
	case TypeGeo:
		c, err := parseGeoLiteral(raw)
		if err != nil {
			return fail(err)
		}
		target.Set(reflect.ValueOf(c))
	case TypeVector:
		vec, err := parseVectorBlob(raw)
		if err != nil {
			return fail(err)
		}
		target.Set(reflect.ValueOf(vec))
	case TypeStringSlice:
		if raw == "" {
			target.Set(reflect.MakeSlice(target.Type(), 0, 0))
			return nil
		}
		parts := strings.Split(raw, spec.Separator)
		out := reflect.MakeSlice(target.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(p)
		}
		target.Set(out)
	default:
		return decodeFallback(spec, raw, target)
	}
	return nil
}

// decodeFallback handles TAG-fallback types: TextUnmarshaler first, then a
// bare string kind.
func decodeFallback(spec *FieldSpec, raw string, target reflect.Value) error {
	if target.CanAddr() {
		if u, ok := target.Addr().Interface().(encoding.TextUnmarshaler); ok {
			if err := u.UnmarshalText([]byte(raw)); err != nil {
				return &DecodeError{Field: spec.Alias, Raw: raw, Err: err}
			}
			return nil
		}
	}
	if target.Kind() == reflect.String {
		target.SetString(raw)
		return nil
	}
	return &DecodeError{
		Field: spec.Alias,
		Raw:   raw,
		Err:   fmt.Errorf("no decoder for type %s", target.Type()),
	}
}

// encodeLiteral renders a query literal the way the index stores the field.
// Enumerated (named) types resolve to their underlying representation, never
// the symbolic name.
func encodeLiteral(spec *FieldSpec, value any) (string, error) {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() {
		return "", nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", nil
		}
		rv = rv.Elem()
	}

	if spec.Kind == KindNumeric {
		return numericLiteral(rv)
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(rv.Bytes()), nil
		}
	}
	if isNumericKind(rv.Kind()) {
		return numericLiteral(rv)
	}
	return fmt.Sprint(rv.Interface()), nil
}

// numericLiteral renders a value in canonical decimal form for a NUMERIC
// clause.
func numericLiteral(rv reflect.Value) (string, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits()), nil
	case reflect.Struct:
		if t, ok := rv.Interface().(time.Time); ok {
			return strconv.FormatInt(t.UTC().Unix(), 10), nil
		}
	}
	return "", fmt.Errorf("redmap: value %v (%s) is not numeric", rv.Interface(), rv.Type())
}

func isNumericKind(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uint64
}

func formatFloat(f float64, bits int) string {
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func geoLiteral(c Coordinates) string {
	return formatFloat(c.Longitude, 64) + "," + formatFloat(c.Latitude, 64)
}

func parseGeoLiteral(raw string) (Coordinates, error) {
	lonStr, latStr, ok := strings.Cut(raw, ",")
	if !ok {
		return Coordinates{}, fmt.Errorf("expected \"lon,lat\"")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return Coordinates{}, err
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Coordinates{}, err
	}
	return Coordinates{Longitude: lon, Latitude: lat}, nil
}

// vectorBlob packs a vector as little-endian float32 bytes, the layout
// FT.SEARCH expects for vector fields and KNN PARAMS.
func vectorBlob(vec []float32) string {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func parseVectorBlob(raw string) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32([]byte(raw[i*4 : i*4+4]))
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}
