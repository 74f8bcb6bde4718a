package redmap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// hashFields renders a model into the flat field map stored by HSET.
// Nil optionals are omitted so numeric and vector attributes never index
// an empty string.
func (s *Schema) hashFields(rv reflect.Value) (map[string]string, error) {
	fields := make(map[string]string, len(s.fields))
	for _, spec := range s.fields {
		if spec.Type == TypeEmbedded {
			continue
		}
		v, ok := s.fieldValue(rv, spec)
		if !ok {
			continue
		}
		enc, err := encodeValue(spec, v)
		if err != nil {
			return nil, err
		}
		if enc == "" && spec.Optional {
			continue
		}
		fields[spec.Name] = enc
	}
	return fields, nil
}

// loadHashFields populates a model from an HGETALL result. Fields absent
// from the hash are left at their zero value.
func (s *Schema) loadHashFields(fields map[string]string, rv reflect.Value) error {
	for _, spec := range s.fields {
		if spec.Type == TypeEmbedded {
			continue
		}
		raw, ok := fields[spec.Name]
		if !ok {
			continue
		}
		target := s.fieldValueAlloc(rv, spec)
		if err := decodeValue(spec, raw, target); err != nil {
			return err
		}
	}
	return nil
}

// jsonDoc renders a model into the nested document stored by JSON.SET.
func (s *Schema) jsonDoc(rv reflect.Value) (map[string]any, error) {
	root := make(map[string]any)
	for _, spec := range s.fields {
		if spec.Type == TypeEmbedded {
			continue
		}
		v, ok := s.fieldValue(rv, spec)
		if !ok {
			continue
		}
		jv, err := jsonValue(spec, v)
		if err != nil {
			return nil, err
		}
		if jv == nil {
			continue
		}

		m := root
		for _, seg := range spec.Path[:len(spec.Path)-1] {
			child, ok := m[seg].(map[string]any)
			if !ok {
				child = make(map[string]any)
				m[seg] = child
			}
			m = child
		}
		m[spec.Path[len(spec.Path)-1]] = jv
	}
	return root, nil
}

// loadJSONDoc populates a model from a JSON.GET or FT.SEARCH payload.
// The payload may be the document itself or a one-element path-match array.
func (s *Schema) loadJSONDoc(data []byte, rv reflect.Value) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("redmap: parse document for %s: %w", s.name, err)
	}
	if arr, ok := raw.([]any); ok {
		if len(arr) == 0 {
			return ErrNotFound
		}
		raw = arr[0]
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("redmap: document for %s is not an object", s.name)
	}

	for _, spec := range s.fields {
		if spec.Type == TypeEmbedded {
			continue
		}
		jv, ok := lookupJSON(doc, spec.Path)
		if !ok || jv == nil {
			continue
		}
		target := s.fieldValueAlloc(rv, spec)
		if err := setJSONValue(spec, jv, target); err != nil {
			return err
		}
	}
	return nil
}

func lookupJSON(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// jsonValue renders one model field as its JSON document representation.
// Nil optionals return nil and are omitted from the document.
func jsonValue(spec *FieldSpec, v reflect.Value) (any, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	switch spec.Type {
	case TypeString:
		return v.String(), nil
	case TypeBool:
		return v.Bool(), nil
	case TypeInt:
		if isUnsigned(v.Kind()) {
			return v.Uint(), nil
		}
		return v.Int(), nil
	case TypeFloat:
		return v.Float(), nil
	case TypeDateTime:
		t, ok := v.Interface().(time.Time)
		if !ok {
			return nil, fmt.Errorf("redmap: field %s: expected time.Time, got %s", spec.Alias, v.Type())
		}
		return t.UTC().Unix(), nil
	case TypeBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes()), nil
	case TypeGeo:
		c, ok := v.Interface().(Coordinates)
		if !ok {
			return nil, fmt.Errorf("redmap: field %s: expected Coordinates, got %s", spec.Alias, v.Type())
		}
		return geoLiteral(c), nil
	case TypeVector:
		vec, ok := v.Interface().([]float32)
		if !ok {
			return nil, fmt.Errorf("redmap: field %s: expected []float32, got %s", spec.Alias, v.Type())
		}
		return vec, nil
	case TypeStringSlice:
		out := make([]string, v.Len())
		for i := range out {
			out[i] = v.Index(i).String()
		}
		return out, nil
	default:
		return fmt.Sprint(v.Interface()), nil
	}
}

// setJSONValue parses a decoded JSON value back into a model field.
func setJSONValue(spec *FieldSpec, jv any, target reflect.Value) error {
	if target.Kind() == reflect.Pointer {
		elem := reflect.New(target.Type().Elem())
		if err := setJSONValue(spec, jv, elem.Elem()); err != nil {
			return err
		}
		target.Set(elem)
		return nil
	}

	fail := func(err error) error {
		return &DecodeError{Field: spec.Alias, Raw: fmt.Sprint(jv), Err: err}
	}

	switch spec.Type {
	case TypeString:
		s, ok := jv.(string)
		if !ok {
			return fail(fmt.Errorf("expected string, got %T", jv))
		}
		target.SetString(s)
	case TypeBool:
		b, ok := jv.(bool)
		if !ok {
			return fail(fmt.Errorf("expected bool, got %T", jv))
		}
		target.SetBool(b)
	case TypeInt:
		n, err := jsonInt(jv)
		if err != nil {
			return fail(err)
		}
		if isUnsigned(target.Kind()) {
			target.SetUint(uint64(n))
		} else {
			target.SetInt(n)
		}
	case TypeFloat:
		f, err := jsonFloat(jv)
		if err != nil {
			return fail(err)
		}
		target.SetFloat(f)
	case TypeDateTime:
		n, err := jsonInt(jv)
		if err != nil {
			return fail(err)
		}
		target.Set(reflect.ValueOf(time.Unix(n, 0).UTC()))
	case TypeBytes:
		s, ok := jv.(string)
		if !ok {
			return fail(fmt.Errorf("expected string, got %T", jv))
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fail(err)
		}
		target.SetBytes(b)
	case TypeGeo:
		s, ok := jv.(string)
		if !ok {
			return fail(fmt.Errorf("expected string, got %T", jv))
		}
		c, err := parseGeoLiteral(s)
		if err != nil {
			return fail(err)
		}
		target.Set(reflect.ValueOf(c))
	case TypeVector:
		arr, ok := jv.([]any)
		if !ok {
			return fail(fmt.Errorf("expected array, got %T", jv))
		}
		vec := make([]float32, len(arr))
		for i, el := range arr {
			f, err := jsonFloat(el)
			if err != nil {
				return fail(err)
			}
			vec[i] = float32(f)
		}
		target.Set(reflect.ValueOf(vec))
	case TypeStringSlice:
		arr, ok := jv.([]any)
		if !ok {
			return fail(fmt.Errorf("expected array, got %T", jv))
		}
		out := make([]string, len(arr))
		for i, el := range arr {
			s, ok := el.(string)
			if !ok {
				return fail(fmt.Errorf("expected string element, got %T", el))
			}
			out[i] = s
		}
		target.Set(reflect.ValueOf(out))
	default:
		s, ok := jv.(string)
		if !ok {
			s = fmt.Sprint(jv)
		}
		return decodeFallback(spec, s, target)
	}
	return nil
}

func jsonInt(jv any) (int64, error) {
	n, ok := jv.(json.Number)
	if !ok {
		return 0, fmt.Errorf("expected number, got %T", jv)
	}
	return n.Int64()
}

func jsonFloat(jv any) (float64, error) {
	switch n := jv.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", jv)
	}
}
