// Package module composes modkit modules inside one binary
package module

import (
	"fmt"
	"reflect"
)

type portHolder interface {
	Name() string
	Ports() any
}

// PortsOf finds a T in m's port set: the set itself, or one of its exported struct fields
func PortsOf[T any](m portHolder) (T, bool) {
	var zero T
	p := m.Ports()
	if p == nil {
		return zero, false
	}
	if v, ok := p.(T); ok {
		return v, true
	}
	rv := reflect.Indirect(reflect.ValueOf(p))
	if rv.Kind() != reflect.Struct {
		return zero, false
	}
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanInterface() {
			continue
		}
		if v, ok := f.Interface().(T); ok {
			return v, true
		}
	}
	return zero, false
}

// MustPortsOf panics when m exposes no T
func MustPortsOf[T any](m portHolder) T {
	v, ok := PortsOf[T](m)
	if !ok {
		var zero T
		panic(fmt.Sprintf("module %s exposes no %T port", m.Name(), &zero))
	}
	return v
}
