package nats

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/shopmonkeyus/go-common/compress"
	"github.com/shopmonkeyus/go-common/logger"
	cnats "github.com/shopmonkeyus/go-common/nats"
	"github.com/vmihailenco/msgpack/v5"
)

const flushTimeout = 10 * time.Second

// natsSink publishes each change event to the subject
// crud6.<model>.<operation>. The wire encoding is negotiated with the
// content-encoding header so consumers can decode with util.DecodeNatsMsg.
type natsSink struct {
	logger   logger.Logger
	nc       *nats.Conn
	encoding string
	gzip     bool
}

var _ internal.Sink = (*natsSink)(nil)
var _ internal.SinkHelp = (*natsSink)(nil)

// Start the sink. This is called once at the beginning of the sink's lifecycle.
func (p *natsSink) Start(config internal.SinkConfig) error {
	p.logger = config.Logger.WithPrefix("[nats]")
	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("unable to parse url: %w", err)
	}
	q := u.Query()
	switch q.Get("encoding") {
	case "", "json":
		p.encoding = "json"
	case "msgpack":
		p.encoding = "msgpack"
	default:
		return fmt.Errorf("unsupported encoding: %s", q.Get("encoding"))
	}
	p.gzip = q.Get("gzip") == "true"
	if p.gzip && p.encoding != "json" {
		return fmt.Errorf("gzip requires json encoding")
	}
	var credentials nats.Option
	if creds := q.Get("creds"); creds != "" {
		if !util.Exists(creds) {
			return fmt.Errorf("credential file: %s cannot be found", creds)
		}
		credentials = nats.UserCredentials(creds)
	} else if !util.IsLocalhost(config.URL) {
		p.logger.Warn("no credentials configured for remote nats server")
	}
	u.RawQuery = "" // the options are ours, not the client's
	nc, err := cnats.NewNats(p.logger, "crud6", u.String(), credentials)
	if err != nil {
		return fmt.Errorf("error creating nats connection: %w", err)
	}
	p.nc = nc
	return nil
}

// Process publishes a single event. Delivery is buffered by the client and
// committed by Flush.
func (p *natsSink) Process(event internal.ChangeEvent) (bool, error) {
	var data []byte
	var encoding string
	switch {
	case p.encoding == "msgpack":
		buf, err := msgpack.Marshal(&event)
		if err != nil {
			return false, fmt.Errorf("unable to encode event: %w", err)
		}
		data, encoding = buf, "msgpack"
	case p.gzip:
		buf, err := compress.Gzip([]byte(util.JSONStringify(event)))
		if err != nil {
			return false, fmt.Errorf("unable to compress event: %w", err)
		}
		data, encoding = buf, "gzip/json"
	default:
		data, encoding = []byte(util.JSONStringify(event)), "json"
	}
	msg := &nats.Msg{
		Subject: event.Subject(),
		Data:    data,
		Header: nats.Header{
			"content-encoding": []string{encoding},
			nats.MsgIdHdr:      []string{event.ID},
		},
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return false, fmt.Errorf("error publishing to %s: %w", msg.Subject, err)
	}
	return false, nil
}

// Flush forces buffered publishes onto the wire and waits for the server to
// acknowledge them.
func (p *natsSink) Flush() error {
	if err := p.nc.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("error flushing nats: %w", err)
	}
	return nil
}

// Stop the sink. This is called once at the end of the sink's lifecycle.
func (p *natsSink) Stop() error {
	if p.nc != nil {
		p.nc.Close()
		p.nc = nil
	}
	return nil
}

// Name is a unique name for the sink.
func (p *natsSink) Name() string {
	return "NATS"
}

// Description is the description of the sink.
func (p *natsSink) Description() string {
	return "Publishes change events to a NATS server, one subject per model and operation."
}

// ExampleURL should return an example URL for configuring the sink.
func (p *natsSink) ExampleURL() string {
	return "nats://localhost:4222"
}

// Help should return detailed help documentation for the sink.
func (p *natsSink) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("Subjects", "Events are published to crud6.[MODEL].[OPERATION] so consumers can subscribe\nto a single model (crud6.users.>), a single operation (crud6.*.DELETE) or everything (crud6.>).\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("Encoding", "Pass ?encoding=msgpack to encode events with msgpack instead of JSON, or\n?gzip=true to gzip the JSON payload. The content-encoding header carries the choice.\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("Credentials", "Pass ?creds=/path/to/file.creds to authenticate against a remote server.\n"))
	return help.String()
}

func init() {
	internal.RegisterSink("nats", &natsSink{})
}
