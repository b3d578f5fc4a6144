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

package sqlserver

import (
	"encoding/hex"
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

// escapeBytesQuotes escapes []byte into the buffer by doubling single
// quotes. T-SQL treats backslash as a literal character so this is the
// only escape that is safe inside a quoted string.
func escapeBytesQuotes(buf []byte, v []byte) []byte {
	pos := len(buf)
	buf = reserveBuffer(buf, len(v)*2)
	for _, c := range v {
		if c == '\'' {
			buf[pos] = '\''
			buf[pos+1] = '\''
			pos += 2
		} else {
			buf[pos] = c
			pos++
		}
	}
	return buf[:pos]
}

func escapeStringQuotes(buf []byte, v string) []byte {
	return escapeBytesQuotes(buf, slice(v))
}

const timestampFormat = "2006-01-02 15:04:05.999999"

func quoteValue(arg any) string {
	var buf []byte
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case int:
		buf = strconv.AppendInt(buf, int64(v), 10)
	case int8:
		buf = strconv.AppendInt(buf, int64(v), 10)
	case int16:
		buf = strconv.AppendInt(buf, int64(v), 10)
	case int32:
		buf = strconv.AppendInt(buf, int64(v), 10)
	case int64:
		buf = strconv.AppendInt(buf, v, 10)
	case uint:
		buf = strconv.AppendUint(buf, uint64(v), 10)
	case uint8:
		buf = strconv.AppendUint(buf, uint64(v), 10)
	case uint16:
		buf = strconv.AppendUint(buf, uint64(v), 10)
	case uint32:
		buf = strconv.AppendUint(buf, uint64(v), 10)
	case uint64:
		buf = strconv.AppendUint(buf, v, 10)
	case float32:
		buf = strconv.AppendFloat(buf, float64(v), 'g', -1, 32)
	case float64:
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	case bool:
		buf = appendSQLArgBool(buf, v)
	case time.Time:
		buf = append(buf, '\'')
		buf = v.UTC().AppendFormat(buf, timestampFormat)
		buf = append(buf, '\'')
	case *time.Time:
		buf = append(buf, '\'')
		buf = v.UTC().AppendFormat(buf, timestampFormat)
		buf = append(buf, '\'')
	case json.RawMessage:
		buf = append(buf, 'N', '\'')
		buf = escapeBytesQuotes(buf, v)
		buf = append(buf, '\'')
	case []byte:
		if v == nil {
			buf = append(buf, "NULL"...)
		} else {
			buf = append(buf, "0x"...)
			buf = append(buf, hex.EncodeToString(v)...)
		}
	case string:
		buf = appendSQLArgString(buf, v)
	case map[string]interface{}:
		jv, _ := json.Marshal(v)
		buf = append(buf, 'N', '\'')
		buf = escapeBytesQuotes(buf, jv)
		buf = append(buf, '\'')
	case []interface{}:
		jv, _ := json.Marshal(v)
		buf = append(buf, 'N', '\'')
		buf = escapeBytesQuotes(buf, jv)
		buf = append(buf, '\'')
	default:
		// slow path based on reflection
		reflectTp := reflect.TypeOf(arg)
		kind := reflectTp.Kind()
		switch kind {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			buf = strconv.AppendInt(buf, reflect.ValueOf(arg).Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			buf = strconv.AppendUint(buf, reflect.ValueOf(arg).Uint(), 10)
		case reflect.Float32:
			buf = strconv.AppendFloat(buf, reflect.ValueOf(arg).Float(), 'g', -1, 32)
		case reflect.Float64:
			buf = strconv.AppendFloat(buf, reflect.ValueOf(arg).Float(), 'g', -1, 64)
		case reflect.Bool:
			buf = appendSQLArgBool(buf, reflect.ValueOf(arg).Bool())
		case reflect.String:
			buf = appendSQLArgString(buf, reflect.ValueOf(arg).String())
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
	buf = append(buf, 'N', '\'')
	buf = escapeStringQuotes(buf, s)
	buf = append(buf, '\'')
	return buf
}
