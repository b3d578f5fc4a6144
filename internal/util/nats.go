package util

import (
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"github.com/shopmonkeyus/go-common/compress"
	"github.com/vmihailenco/msgpack/v5"
)

// DecodeNatsMsg decodes a change event message into v, honoring the
// content-encoding header set by the nats sink (json, gzip/json or msgpack).
func DecodeNatsMsg(msg *nats.Msg, v any) error {
	data := msg.Data
	switch encoding := msg.Header.Get("content-encoding"); encoding {
	case "", "json":
	case "gzip/json":
		var err error
		if data, err = compress.Gunzip(data); err != nil {
			return err
		}
	case "msgpack":
		var o any
		if err := msgpack.Unmarshal(data, &o); err != nil {
			return err
		}
		var err error
		if data, err = json.Marshal(o); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported content-encoding: %s", encoding)
	}
	return json.Unmarshal(data, v)
}
