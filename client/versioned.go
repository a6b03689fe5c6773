package client

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/julianpistorius/jsvcgen/apiversion"
)

// Versioned is implemented by request types with fields that only exist from
// some API version on. FieldVersions maps a JSON field name to the lowest API
// version that understands it.
type Versioned interface {
	FieldVersions() map[string]string
}

// presence is implemented by optional.Optional. A present value is never the
// default, even when it holds false, 0 or "".
type presence interface {
	IsPresent() bool
}

// checkVersions returns the fields of params that carry a non-default value
// but need an API version newer than negotiated. Optional fields are judged
// by presence on the Go value, other fields by their encoded JSON value.
func checkVersions(v Versioned, params []byte, negotiated string) ([]string, error) {
	current, err := apiversion.Parse(negotiated)
	if err != nil {
		return nil, &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf("negotiated API version %q is not usable", negotiated), Err: err}
	}

	var offending []string
	for field, minVersion := range v.FieldVersions() {
		required, err := apiversion.Parse(minVersion)
		if err != nil {
			return nil, invalidArgument("field %q: %v", field, err)
		}
		if !current.LessThan(*required) {
			continue
		}
		if p, ok := presenceOf(v, field); ok {
			if p.IsPresent() {
				offending = append(offending, field)
			}
			continue
		}
		value, dataType, _, err := jsonparser.Get(params, field)
		if err != nil || isDefault(value, dataType) {
			continue
		}
		offending = append(offending, field)
	}
	sort.Strings(offending)
	return offending, nil
}

// presenceOf finds the struct field whose JSON name is name and reports it
// when it implements presence.
func presenceOf(v any, name string) (presence, bool) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	f, ok := fieldByJSONName(rv, name)
	if !ok || !f.CanInterface() {
		return nil, false
	}
	p, ok := f.Interface().(presence)
	return p, ok
}

func fieldByJSONName(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == "-" {
			continue
		}
		if tag == "" {
			if sf.Anonymous && sf.Type.Kind() == reflect.Struct {
				if f, ok := fieldByJSONName(rv.Field(i), name); ok {
					return f, true
				}
				continue
			}
			tag = sf.Name
		}
		if tag == name {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// isDefault reports whether a JSON value is the zero value of its type.
func isDefault(value []byte, dataType jsonparser.ValueType) bool {
	switch dataType {
	case jsonparser.NotExist, jsonparser.Null:
		return true
	case jsonparser.String:
		return len(value) == 0
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(value)
		return err == nil && f == 0
	case jsonparser.Boolean:
		return bytes.Equal(value, []byte("false"))
	case jsonparser.Array:
		empty := true
		jsonparser.ArrayEach(value, func([]byte, jsonparser.ValueType, int, error) {
			empty = false
		})
		return empty
	case jsonparser.Object:
		empty := true
		jsonparser.ObjectEach(value, func([]byte, []byte, jsonparser.ValueType, int) error {
			empty = false
			return nil
		})
		return empty
	}
	return false
}
