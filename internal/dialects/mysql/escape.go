// SOME CODE COPIED/MODIFIED FROM
// https://github.com/pingcap/tidb/blob/eafb78a9c6b8ff6f9c00188ca16fc63b41ae4e56/pkg/util/sqlexec/utils.go
//
// Copyright 2021 PingCAP, Inc.
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

package mysql

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
	"unsafe"
)

// slice converts string to slice without copy.
// Use at your own risk.
func slice(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func reserveBuffer(buf []byte, appendSize int) []byte {
	newSize := len(buf) + appendSize
	if cap(buf) < newSize {
		newBuf := make([]byte, len(buf)*2+appendSize)
		copy(newBuf, buf)
		buf = newBuf
	}
	return buf[:newSize]
}

// escapeBytesBackslash will escape []byte into the buffer, with backslash.
func escapeBytesBackslash(buf []byte, v []byte) []byte {
	pos := len(buf)
	buf = reserveBuffer(buf, len(v)*2)

	for _, c := range v {
		switch c {
		case '\x00':
			buf[pos] = '\\'
			buf[pos+1] = '0'
			pos += 2
		case '\n':
			buf[pos] = '\\'
			buf[pos+1] = 'n'
			pos += 2
		case '\r':
			buf[pos] = '\\'
			buf[pos+1] = 'r'
			pos += 2
		case '\x1a':
			buf[pos] = '\\'
			buf[pos+1] = 'Z'
			pos += 2
		case '\'':
			buf[pos] = '\''
			buf[pos+1] = '\''
			pos += 2
		case '"':
			buf[pos] = '\\'
			buf[pos+1] = '"'
			pos += 2
		case '\\':
			buf[pos] = '\\'
			buf[pos+1] = '\\'
			pos += 2
		default:
			buf[pos] = c
			pos++
		}
	}

	return buf[:pos]
}

// escapeStringBackslash will escape string into the buffer, with backslash.
func escapeStringBackslash(buf []byte, v string) []byte {
	return escapeBytesBackslash(buf, slice(v))
}

func quoteValue(arg any) string {
	var buf []byte
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case int:
		buf = strconv.AppendInt(buf, int64(v), 10)
	case int32:
		buf = strconv.AppendInt(buf, int64(v), 10)
	case int64:
		buf = strconv.AppendInt(buf, v, 10)
	case float32:
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	case float64:
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	case bool:
		buf = appendSQLArgBool(buf, v)
	case time.Time:
		buf = append(buf, '\'')
		buf = v.UTC().AppendFormat(buf, "2006-01-02 15:04:05.999999")
		buf = append(buf, '\'')
	case json.RawMessage:
		buf = append(buf, '\'')
		buf = escapeBytesBackslash(buf, v)
		buf = append(buf, '\'')
	case []byte:
		if v == nil {
			buf = append(buf, "NULL"...)
		} else {
			buf = append(buf, "_binary'"...)
			buf = escapeBytesBackslash(buf, v)
			buf = append(buf, '\'')
		}
	case string:
		buf = appendSQLArgString(buf, v)
	case map[string]interface{}, []interface{}:
		jv, _ := json.Marshal(v)
		buf = append(buf, '\'')
		buf = escapeBytesBackslash(buf, jv)
		buf = append(buf, '\'')
	default:
		// slow path based on reflection
		value := reflect.ValueOf(arg)
		switch value.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			buf = strconv.AppendInt(buf, value.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			buf = strconv.AppendUint(buf, value.Uint(), 10)
		case reflect.Float32:
			buf = strconv.AppendFloat(buf, value.Float(), 'g', -1, 32)
		case reflect.Float64:
			buf = strconv.AppendFloat(buf, value.Float(), 'g', -1, 64)
		case reflect.Bool:
			buf = appendSQLArgBool(buf, value.Bool())
		case reflect.String:
			buf = appendSQLArgString(buf, value.String())
		default:
			panic(fmt.Errorf("unsupported argument: %v (%s)", arg, reflect.TypeOf(arg)))
		}
	}
	return string(buf)
}

func appendSQLArgBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, '1')
	}
	return append(buf, '0')
}

func appendSQLArgString(buf []byte, s string) []byte {
	buf = append(buf, '\'')
	buf = escapeStringBackslash(buf, s)
	buf = append(buf, '\'')
	return buf
}
