package file

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// fileSink appends change events to one NDJSON file per model inside the
// configured directory.
type fileSink struct {
	logger  logger.Logger
	dir     string
	files   map[string]*os.File
	writers map[string]*bufio.Writer
}

var _ internal.Sink = (*fileSink)(nil)
var _ internal.SinkHelp = (*fileSink)(nil)

func (p *fileSink) getPathFromURL(urlString string) (string, error) {
	u, err := url.Parse(urlString)
	if err != nil {
		return "", fmt.Errorf("unable to parse url: %w", err)
	}
	// file:///tmp/events is absolute, file://events is relative to the
	// working directory
	dir := u.Path
	if u.Host != "" {
		dir = filepath.Join(u.Host, u.Path)
	}
	if dir == "" {
		return "", fmt.Errorf("path is required in url which should be the directory to store events")
	}
	if !strings.HasPrefix(dir, "/") {
		dir, err = filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("unable to get absolute path for %s: %w", dir, err)
		}
	}
	if !util.Exists(dir) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("unable to create directory: %w", err)
		}
	}
	return dir, nil
}

// Start the sink. This is called once at the beginning of the sink's lifecycle.
func (p *fileSink) Start(config internal.SinkConfig) error {
	p.logger = config.Logger.WithPrefix("[file]")
	dir, err := p.getPathFromURL(config.URL)
	if err != nil {
		return err
	}
	p.dir = dir
	p.files = make(map[string]*os.File)
	p.writers = make(map[string]*bufio.Writer)
	return nil
}

func (p *fileSink) writer(model string) (*bufio.Writer, error) {
	if w, ok := p.writers[model]; ok {
		return w, nil
	}
	fp := filepath.Join(p.dir, model+".ndjson")
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", fp, err)
	}
	p.files[model] = f
	p.writers[model] = bufio.NewWriter(f)
	p.logger.Trace("appending to %s", fp)
	return p.writers[model], nil
}

// Process appends the event as one JSON line to the model's file.
func (p *fileSink) Process(event internal.ChangeEvent) (bool, error) {
	w, err := p.writer(event.Model)
	if err != nil {
		return false, err
	}
	if _, err := w.WriteString(util.JSONStringify(event)); err != nil {
		return false, fmt.Errorf("unable to write event: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return false, fmt.Errorf("unable to write event: %w", err)
	}
	return false, nil
}

// Flush pushes buffered lines to disk.
func (p *fileSink) Flush() error {
	for model, w := range p.writers {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("unable to flush %s: %w", model, err)
		}
	}
	return nil
}

// Stop the sink. This is called once at the end of the sink's lifecycle.
func (p *fileSink) Stop() error {
	if err := p.Flush(); err != nil {
		return err
	}
	for model, f := range p.files {
		if err := f.Close(); err != nil {
			p.logger.Error("error closing %s: %s", model, err)
		}
	}
	p.files = nil
	p.writers = nil
	return nil
}

// Name is a unique name for the sink.
func (p *fileSink) Name() string {
	return "File"
}

// Description is the description of the sink.
func (p *fileSink) Description() string {
	return "Appends change events to NDJSON files in a local directory, one file per model."
}

// ExampleURL should return an example URL for configuring the sink.
func (p *fileSink) ExampleURL() string {
	return "file://folder"
}

// Help should return detailed help documentation for the sink.
func (p *fileSink) Help() string {
	var help strings.Builder
	help.WriteString("Provide a directory in the URL path to append events into this folder.\n")
	help.WriteString("Each model gets its own <model>.ndjson file with one event per line.\n")
	return help.String()
}

func init() {
	internal.RegisterSink("file", &fileSink{})
}
