package bindingfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/service"
	"gopkg.in/yaml.v3"
)

// ErrDuplicateList is returned when a file binds the same list twice.
var ErrDuplicateList = errors.New("list is bound more than once")

// Record is one binding as written in the file.
type Record struct {
	ListID         string `yaml:"list_id"`
	Provider       string `yaml:"provider"`
	RemoteListID   string `yaml:"remote_list_id"`
	CredentialsRef string `yaml:"credentials_ref"`
}

type document struct {
	Bindings []Record `yaml:"bindings"`
}

// Parse decodes and validates a bindings document. Unknown keys are errors.
func Parse(data []byte) (map[uuid.UUID]service.LinkRequest, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidFormat, err)
	}

	out := make(map[uuid.UUID]service.LinkRequest, len(doc.Bindings))
	for i, rec := range doc.Bindings {
		listID, err := uuid.Parse(rec.ListID)
		if err != nil {
			return nil, fmt.Errorf("binding %d: %w: %v", i, domain.ErrInvalidID, err)
		}
		if _, dup := out[listID]; dup {
			return nil, fmt.Errorf("binding %d: %w: %s", i, ErrDuplicateList, listID)
		}
		req := service.LinkRequest{
			ListID:         listID,
			ProviderKind:   domain.ProviderKind(rec.Provider),
			RemoteListID:   rec.RemoteListID,
			CredentialsRef: rec.CredentialsRef,
		}
		if _, err := domain.NewListBinding(req.ListID, req.ProviderKind, req.RemoteListID, req.CredentialsRef); err != nil {
			return nil, fmt.Errorf("binding %d: %w", i, err)
		}
		out[listID] = req
	}
	return out, nil
}

// Load reads and parses the file at path. A missing file declares nothing.
func Load(path string) (map[uuid.UUID]service.LinkRequest, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[uuid.UUID]service.LinkRequest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read bindings file: %w", err)
	}
	return Parse(data)
}
