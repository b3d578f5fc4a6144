package internal

import (
	"context"
	"fmt"
	"net/url"

	"github.com/charmbracelet/x/ansi"
	"github.com/shopmonkeyus/go-common/logger"
)

// SinkConfig is the runtime configuration handed to Sink.Start.
type SinkConfig struct {

	// Context is the context for the sink's lifetime.
	Context context.Context

	// Logger is the logger for the sink.
	Logger logger.Logger

	// URL the sink was configured with. Sink specific options ride on the
	// query string.
	URL string
}

// Sink is implemented by every change event destination. The publisher owns
// the lifecycle and serializes all calls: Process may buffer, Flush commits
// whatever is pending.
type Sink interface {

	// Start is called once before any events are delivered.
	Start(config SinkConfig) error

	// Process takes one event. Returning true requests an immediate flush.
	Process(event ChangeEvent) (bool, error)

	// Flush commits any pending events.
	Flush() error

	// Stop is called once at shutdown, after the final flush.
	Stop() error
}

// SinkHelp is implemented by sinks that document themselves.
type SinkHelp interface {

	// Name is a unique name for the sink.
	Name() string

	// Description is the description of the sink.
	Description() string

	// ExampleURL should return an example URL for configuring the sink.
	ExampleURL() string

	// Help should return detailed help documentation for the sink.
	Help() string
}

// SinkMetadata describes a registered sink for help output.
type SinkMetadata struct {
	Scheme      string `json:"scheme"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ExampleURL  string `json:"exampleURL"`
	Help        string `json:"help"`
}

var sinkRegistry = map[string]Sink{}

// RegisterSink registers a sink for a given URL scheme.
func RegisterSink(scheme string, sink Sink) {
	sinkRegistry[scheme] = sink
}

// GetSinkMetadata returns the metadata for all registered sinks.
func GetSinkMetadata() []SinkMetadata {
	var res []SinkMetadata
	for scheme, sink := range sinkRegistry {
		if help, ok := sink.(SinkHelp); ok {
			res = append(res, SinkMetadata{
				Scheme:      scheme,
				Name:        help.Name(),
				Description: help.Description(),
				ExampleURL:  help.ExampleURL(),
				Help:        ansi.Strip(help.Help()),
			})
		} else {
			res = append(res, SinkMetadata{
				Scheme: scheme,
				Name:   scheme,
			})
		}
	}
	return res
}

// LookupSink returns the sink registered for the URL's scheme.
func LookupSink(urlString string) (Sink, string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse URL: %w", err)
	}
	sink := sinkRegistry[u.Scheme]
	if sink == nil {
		return nil, "", fmt.Errorf("no sink registered for scheme %s", u.Scheme)
	}
	return sink, u.Scheme, nil
}
