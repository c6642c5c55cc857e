package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinimetrix/clinimetrix/internal/clinimetrix"
)

type Service struct {
	definitions ScaleDefinitionRepository

	// Parsed templates keyed by content hash. Templates are immutable once
	// published, so a hash hit never needs re-parsing.
	mu    sync.RWMutex
	cache map[string]*clinimetrix.ScaleTemplate
}

func NewService(definitions ScaleDefinitionRepository) *Service {
	return &Service{
		definitions: definitions,
		cache:       make(map[string]*clinimetrix.ScaleTemplate),
	}
}

// Publish validates a raw template document and stores it as a new scale
// version. Publishing the same document twice is idempotent; publishing a
// different document under an already-published scale+version is rejected,
// since historical results reference versions by content.
func (s *Service) Publish(ctx context.Context, raw []byte) (*ScaleDefinition, error) {
	tmpl, err := clinimetrix.LoadTemplate(raw)
	if err != nil {
		return nil, err
	}

	if existing, err := s.definitions.GetByScaleVersion(ctx, tmpl.ID, tmpl.Version); err == nil && existing != nil {
		if existing.ContentHash == tmpl.ContentHash {
			return existing, nil
		}
		return nil, fmt.Errorf("scale %s version %s is already published with different content", tmpl.ID, tmpl.Version)
	}

	def := &ScaleDefinition{
		ScaleID:      tmpl.ID,
		Abbreviation: tmpl.Abbreviation,
		Name:         tmpl.Name,
		Version:      tmpl.Version,
		ContentHash:  tmpl.ContentHash,
		Document:     append([]byte(nil), raw...),
		Active:       true,
		PublishedAt:  time.Now().UTC(),
	}
	if err := s.definitions.Create(ctx, def); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[tmpl.ContentHash] = tmpl
	s.mu.Unlock()
	return def, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ScaleDefinition, error) {
	return s.definitions.GetByID(ctx, id)
}

func (s *Service) GetByScaleVersion(ctx context.Context, scaleID, version string) (*ScaleDefinition, error) {
	if scaleID == "" {
		return nil, fmt.Errorf("scale_id is required")
	}
	return s.definitions.GetByScaleVersion(ctx, scaleID, version)
}

// Latest returns the most recently published active version of a scale.
func (s *Service) Latest(ctx context.Context, scaleID string) (*ScaleDefinition, error) {
	if scaleID == "" {
		return nil, fmt.Errorf("scale_id is required")
	}
	return s.definitions.Latest(ctx, scaleID)
}

func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*ScaleDefinition, int, error) {
	return s.definitions.List(ctx, activeOnly, limit, offset)
}

// Retire deactivates a scale version. Retired versions no longer accept new
// assessments but remain resolvable so old results keep their provenance.
func (s *Service) Retire(ctx context.Context, id uuid.UUID) error {
	return s.definitions.Retire(ctx, id)
}

// Template returns the parsed, validated template for a stored definition.
func (s *Service) Template(ctx context.Context, id uuid.UUID) (*clinimetrix.ScaleTemplate, error) {
	def, err := s.definitions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.templateFor(def)
}

func (s *Service) templateFor(def *ScaleDefinition) (*clinimetrix.ScaleTemplate, error) {
	s.mu.RLock()
	tmpl, ok := s.cache[def.ContentHash]
	s.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	tmpl, err := clinimetrix.LoadTemplate(def.Document)
	if err != nil {
		return nil, fmt.Errorf("stored definition %s failed validation: %w", def.ID, err)
	}
	if tmpl.ContentHash != def.ContentHash {
		return nil, fmt.Errorf("stored definition %s content hash mismatch", def.ID)
	}

	s.mu.Lock()
	s.cache[def.ContentHash] = tmpl
	s.mu.Unlock()
	return tmpl, nil
}
