package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// SerializationError reports a payload that cannot cross the frame
// boundary: functions, channels, or a cyclic object graph. It is a local,
// synchronous failure raised at send time and is never itself sent over
// the wire.
type SerializationError struct {
	Path   string // dotted path to the offending value, "" for the root
	Reason string
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("value is not transportable: %s", e.Reason)
	}
	return fmt.Sprintf("value at %s is not transportable: %s", e.Path, e.Reason)
}

// CheckSerializable walks a value and rejects anything that would not
// survive JSON transport: functions, channels, unsafe pointers, complex
// numbers, and cyclic references. The walk is deterministic: the same
// input always fails (or passes) the same way.
func CheckSerializable(v interface{}) error {
	if v == nil {
		return nil
	}
	visiting := make(map[uintptr]bool)
	return checkValue(reflect.ValueOf(v), "", visiting)
}

func checkValue(val reflect.Value, path string, visiting map[uintptr]bool) error {
	if !val.IsValid() {
		return nil
	}

	switch val.Kind() {
	case reflect.Func:
		return &SerializationError{Path: path, Reason: "functions cannot cross the frame boundary"}
	case reflect.Chan:
		return &SerializationError{Path: path, Reason: "channels cannot cross the frame boundary"}
	case reflect.UnsafePointer:
		return &SerializationError{Path: path, Reason: "unsafe pointers cannot cross the frame boundary"}
	case reflect.Complex64, reflect.Complex128:
		return &SerializationError{Path: path, Reason: "complex numbers have no JSON representation"}

	case reflect.Interface:
		if val.IsNil() {
			return nil
		}
		return checkValue(val.Elem(), path, visiting)

	case reflect.Ptr:
		if val.IsNil() {
			return nil
		}
		ptr := val.Pointer()
		if visiting[ptr] {
			return &SerializationError{Path: path, Reason: "cyclic reference"}
		}
		visiting[ptr] = true
		err := checkValue(val.Elem(), path, visiting)
		delete(visiting, ptr)
		return err

	case reflect.Map:
		if val.IsNil() {
			return nil
		}
		ptr := val.Pointer()
		if visiting[ptr] {
			return &SerializationError{Path: path, Reason: "cyclic reference"}
		}
		visiting[ptr] = true
		iter := val.MapRange()
		for iter.Next() {
			key := iter.Key()
			if key.Kind() != reflect.String {
				// Non-string keys would not round-trip through JSON objects.
				if !key.CanInt() && !key.CanUint() {
					delete(visiting, ptr)
					return &SerializationError{
						Path:   path,
						Reason: fmt.Sprintf("map key of type %s is not transportable", key.Type()),
					}
				}
			}
			childPath := joinPath(path, fmt.Sprintf("%v", key.Interface()))
			if err := checkValue(iter.Value(), childPath, visiting); err != nil {
				delete(visiting, ptr)
				return err
			}
		}
		delete(visiting, ptr)
		return nil

	case reflect.Slice:
		if val.IsNil() {
			return nil
		}
		ptr := val.Pointer()
		if visiting[ptr] {
			return &SerializationError{Path: path, Reason: "cyclic reference"}
		}
		visiting[ptr] = true
		for i := 0; i < val.Len(); i++ {
			if err := checkValue(val.Index(i), joinPath(path, fmt.Sprintf("%d", i)), visiting); err != nil {
				delete(visiting, ptr)
				return err
			}
		}
		delete(visiting, ptr)
		return nil

	case reflect.Array:
		for i := 0; i < val.Len(); i++ {
			if err := checkValue(val.Index(i), joinPath(path, fmt.Sprintf("%d", i)), visiting); err != nil {
				return err
			}
		}
		return nil

	case reflect.Struct:
		t := val.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if field.PkgPath != "" {
				continue // unexported fields never serialize
			}
			if err := checkValue(val.Field(i), joinPath(path, field.Name), visiting); err != nil {
				return err
			}
		}
		return nil

	default:
		// Scalars: string, bool, ints, uints, floats.
		return nil
	}
}

func joinPath(base, element string) string {
	if base == "" {
		return element
	}
	return base + "." + element
}

// CloneValue deep-copies a transportable value by round-tripping it
// through JSON, the same projection the frame boundary applies. This is
// how context data fields are defensively copied: the clone shares no
// storage with the original.
func CloneValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if err := CheckSerializable(v); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &SerializationError{Reason: err.Error()}
	}
	return out, nil
}
