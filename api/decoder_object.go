package api

import (
	"fmt"
	"reflect"
	"strings"
)

// memberOptions controls how form keys are matched to struct members.
type memberOptions struct {
	// preferFieldNames makes the Go field name win when it clashes with
	// another member's json name.
	preferFieldNames bool
}

type member struct {
	name  string
	index []int
	typ   reflect.Type
	kind  ParamKind
}

// memberTable maps case-folded keys to the settable members of a struct. It
// is built once at registration.
type memberTable struct {
	typ     reflect.Type
	ptr     bool
	byName  map[string]*member
	special *member
}

func newMemberTable(t reflect.Type, opts memberOptions) (*memberTable, error) {
	mt := &memberTable{typ: t, byName: make(map[string]*member)}
	if t.Kind() == reflect.Pointer {
		mt.ptr = true
		mt.typ = t.Elem()
	}
	if mt.typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a struct", t)
	}

	var tagged, plain []*member
	for _, sf := range reflect.VisibleFields(mt.typ) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		m := &member{name: sf.Name, index: sf.Index, typ: sf.Type, kind: kindOf(sf.Type)}
		if m.kind != KindValue {
			if mt.special != nil {
				return nil, fmt.Errorf("only one stream/file member permitted: %s and %s", mt.special.name, sf.Name)
			}
			mt.special = m
			continue
		}
		plain = append(plain, m)
		if tag := jsonName(sf); tag != "" && !strings.EqualFold(tag, sf.Name) {
			tagged = append(tagged, &member{name: tag, index: sf.Index, typ: sf.Type, kind: KindValue})
		}
	}

	first, second := tagged, plain
	if opts.preferFieldNames {
		first, second = plain, tagged
	}
	for _, group := range [][]*member{first, second} {
		for _, m := range group {
			key := strings.ToLower(m.name)
			if _, taken := mt.byName[key]; !taken {
				mt.byName[key] = m
			}
		}
	}
	return mt, nil
}

func jsonName(sf reflect.StructField) string {
	tag, ok := sf.Tag.Lookup("json")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "-" {
		return ""
	}
	return name
}

func (mt *memberTable) lookup(key string) *member {
	return mt.byName[strings.ToLower(key)]
}

// objectDecoder fills the single struct parameter of a method from
// form-style values.
type objectDecoder struct {
	table *memberTable
}

func (d *objectDecoder) Decode(m *Method, req Request) (Args, error) {
	p := m.params[0]
	obj := reflect.New(d.table.typ).Elem()

	values := req.Params()
	if sp := d.table.special; sp != nil {
		values = req.Query()
		fieldByIndexAlloc(obj, sp.index).Set(reflect.ValueOf(specialValue(sp.kind, sp.typ, req)))
	}
	for _, key := range sortedKeys(values) {
		mem := d.table.lookup(key)
		if mem == nil {
			continue
		}
		v, err := convertValues(key, values[key], mem.typ)
		if err != nil {
			return nil, err
		}
		fieldByIndexAlloc(obj, mem.index).Set(v)
	}

	if d.table.ptr {
		return Args{p.Name: obj.Addr().Interface()}, nil
	}
	return Args{p.Name: obj.Interface()}, nil
}

// fieldByIndexAlloc is reflect.Value.FieldByIndex that allocates nil
// embedded struct pointers on the way down.
func fieldByIndexAlloc(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v
}
