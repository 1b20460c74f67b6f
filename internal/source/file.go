package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// FileProvider reads a whole timetable Document from a YAML or JSON file.
// The file is re-read on every Fetch so edits show up on the next refresh.
type FileProvider struct {
	path     string
	validate *validator.Validate
	now      func() time.Time
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, validate: newValidator(), now: time.Now}
}

func (p *FileProvider) Fetch(ctx context.Context) (*gapeka.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	doc, err := ParseDocument(data, p.validate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.path, err)
	}
	return toSnapshot(doc.Stations, doc.Routes, doc.Trains, "file", p.now()), nil
}

// ParseDocument decodes and validates a timetable document. JSON input is
// accepted since it is valid YAML.
func ParseDocument(data []byte, v *validator.Validate) (*Document, error) {
	if v == nil {
		v = newValidator()
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if err := v.Struct(doc); err != nil {
		return nil, fmt.Errorf("validate snapshot: %w", err)
	}
	return &doc, nil
}
