package portconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/warmsync/internal/snapshot"
	"github.com/signalsfoundry/warmsync/model"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDocument = errors.New("invalid port document")

// Document is a device's full port configuration, as replayed at warm init
// or as programmed in hardware.
type Document struct {
	Device string     `yaml:"device" json:"device"`
	Ports  []PortSpec `yaml:"ports" json:"ports"`
}

// Parse decodes a YAML or JSON document. Unknown fields are rejected.
func Parse(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, nil
		}
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Load reads and parses the document at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read port document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Records validates every port and returns them keyed by port. A port listed
// twice is an error.
func (d Document) Records() (map[model.PortKey]model.PortRecord, error) {
	out := make(map[model.PortKey]model.PortRecord, len(d.Ports))
	for i, spec := range d.Ports {
		if _, dup := out[spec.Key()]; dup {
			return nil, fmt.Errorf("%w: ports[%d]: port %d listed twice", ErrInvalidDocument, i, spec.Port)
		}
		rec, err := spec.Record()
		if err != nil {
			return nil, fmt.Errorf("%w: ports[%d]: %w", ErrInvalidDocument, i, err)
		}
		out[spec.Key()] = rec
	}
	return out, nil
}

// Snapshot validates the document and returns it as a snapshot.
func (d Document) Snapshot() (snapshot.Snapshot, error) {
	recs, err := d.Records()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.New(recs), nil
}

// FromSnapshot renders snap as a document for device, ports in key order.
func FromSnapshot(device string, snap snapshot.Snapshot) Document {
	doc := Document{Device: device, Ports: make([]PortSpec, 0, snap.Len())}
	snap.Range(func(k model.PortKey, rec model.PortRecord) bool {
		doc.Ports = append(doc.Ports, FromRecord(k, rec))
		return true
	})
	return doc
}

// Encode writes d to w as YAML.
func (d Document) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

// Save writes d to path, as JSON when the extension is .json and YAML otherwise.
func (d Document) Save(path string) error {
	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(path), ".json") {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
	} else if err := d.Encode(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
