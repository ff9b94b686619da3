// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slogscope

import (
	"log/slog"
	"reflect"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Normalize renders v as text suitable for a scope value.
//
// Strings are returned unchanged so values the caller already formatted are
// not encoded twice. Errors render as their message and protobuf messages as
// protojson. Every other value is encoded as JSON with map keys sorted.
// A nil value, including a typed nil pointer, or one that encodes to nothing
// or to null, yields "". A value whose Error or MarshalJSON method panics
// also yields "".
func Normalize(v slog.Value) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	v = v.Resolve()
	if v.Kind() == slog.KindString {
		return v.String()
	}
	if v.Kind() == slog.KindAny {
		switch x := v.Any().(type) {
		case nil:
			return ""
		case error:
			if isNil(x) {
				return ""
			}
			return x.Error()
		}
	}

	data, err := json.Marshal(jsonValue(v), json.Deterministic(true))
	if err != nil || len(data) == 0 || string(data) == "null" {
		return ""
	}
	return string(data)
}

// jsonValue converts v into a form the JSON encoder renders faithfully.
// Groups become objects and nested values are converted recursively.
func jsonValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindGroup:
		attrs := v.Group()
		obj := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			if attr.Key == "" {
				continue
			}
			obj[attr.Key] = jsonValue(attr.Value)
		}
		return obj
	default:
		return anyValue(v.Any())
	}
}

// anyValue handles the dynamic values carried by slog.KindAny.
func anyValue(x any) any {
	switch t := x.(type) {
	case nil:
		return nil
	case proto.Message:
		data, err := protojson.Marshal(t)
		if err != nil {
			return nil
		}
		// protojson output has unstable whitespace.
		raw := jsontext.Value(data)
		if err := raw.Compact(); err != nil {
			return nil
		}
		return raw
	case error:
		if isNil(t) {
			return nil
		}
		return t.Error()
	case time.Duration:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return x
	}
}

// isNil reports whether x holds a nil pointer, map, slice, func or chan
// behind a non-nil interface.
func isNil(x any) bool {
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
