package crypto

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize encodes a receipt body as canonical JSON. Object keys are NFC
// normalized and sorted, null object members are omitted and floats are
// rejected. Amounts (*uint256.Int) encode as decimal strings so wei values
// survive any JSON reader.
func Canonicalize(v any) ([]byte, error) {
	e := &encoder{}
	if err := e.encode(v); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

type encoder struct {
	buf bytes.Buffer
}

type member struct {
	name  string
	value reflect.Value
}

func (e *encoder) encode(v any) error {
	switch x := v.(type) {
	case nil:
		e.buf.WriteString("null")
		return nil
	case string:
		return e.str(x)
	case bool:
		e.buf.WriteString(strconv.FormatBool(x))
		return nil
	case json.Number:
		return e.number(x)
	case *uint256.Int:
		if x == nil {
			e.buf.WriteString("null")
			return nil
		}
		return e.str(x.Dec())
	case uint256.Int:
		return e.str(x.Dec())
	}
	return e.reflect(reflect.ValueOf(v))
}

func (e *encoder) reflect(rv reflect.Value) error {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}
	if rv.IsValid() && rv.CanInterface() {
		switch rv.Interface().(type) {
		case uint256.Int, json.Number:
			return e.encode(rv.Interface())
		}
	}

	switch rv.Kind() {
	case reflect.Invalid:
		e.buf.WriteString("null")
	case reflect.String:
		return e.str(rv.String())
	case reflect.Bool:
		e.buf.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		return ErrFloatNotAllowed
	case reflect.Map:
		return e.object(rv)
	case reflect.Slice:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.array(rv)
	case reflect.Array:
		return e.array(rv)
	default:
		return ErrUnsupportedType
	}
	return nil
}

func (e *encoder) str(s string) error {
	out, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	e.buf.Write(out)
	return nil
}

// number accepts only integral JSON numbers that fit in an int64.
func (e *encoder) number(n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return ErrFloatNotAllowed
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ErrFloatNotAllowed
	}
	e.buf.WriteString(strconv.FormatInt(i, 10))
	return nil
}

func (e *encoder) object(rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return ErrNonStringMapKey
	}

	members := make([]member, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		val := iter.Value()
		if isNull(val) {
			continue
		}
		members = append(members, member{name: norm.NFC.String(iter.Key().String()), value: val})
	}
	slices.SortFunc(members, func(a, b member) int { return strings.Compare(a.name, b.name) })

	e.buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			if members[i-1].name == m.name {
				return ErrKeyCollision
			}
			e.buf.WriteByte(',')
		}
		if err := e.str(m.name); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.reflect(m.value); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) array(rv reflect.Value) error {
	e.buf.WriteByte('[')
	for i := range rv.Len() {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.reflect(rv.Index(i)); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func isNull(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return isNull(rv.Elem())
	case reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
