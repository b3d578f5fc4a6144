package util

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// JSONDecoder reads a stream of JSON documents from an NDJSON file.
type JSONDecoder interface {
	// Decode reads the next document in the stream into v.
	Decode(v any) error
	// More returns true if there are more documents in the stream.
	More() bool
	// Count returns the number of documents read so far.
	Count() int
	// Close releases the underlying file (and gzip reader if any).
	Close() error
}

type ndjsonFile struct {
	file  *os.File
	gzr   *gzip.Reader
	dec   *json.Decoder
	count int
}

var _ JSONDecoder = (*ndjsonFile)(nil)

func (n *ndjsonFile) Decode(v any) error {
	if err := n.dec.Decode(v); err != nil {
		return err
	}
	n.count++
	return nil
}

func (n *ndjsonFile) More() bool {
	return n.dec.More()
}

func (n *ndjsonFile) Count() int {
	return n.count
}

func (n *ndjsonFile) Close() error {
	if n.gzr != nil {
		n.gzr.Close()
		n.gzr = nil
	}
	if n.file != nil {
		err := n.file.Close()
		n.file = nil
		return err
	}
	return nil
}

// NewNDJSONDecoder opens a newline-delimited JSON file, transparently
// decompressing when the filename ends in .gz.
func NewNDJSONDecoder(fn string) (JSONDecoder, error) {
	file, err := os.Open(fn)
	if err != nil {
		return nil, fmt.Errorf("error opening: %s. %w", fn, err)
	}
	n := &ndjsonFile{file: file}
	var r io.Reader = file
	if strings.HasSuffix(fn, ".gz") {
		n.gzr, err = gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("gzip: error opening: %s. %w", fn, err)
		}
		r = n.gzr
	}
	n.dec = json.NewDecoder(r)
	return n, nil
}
