package drug

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	drugs         DrugRepository
	manufacturers ManufacturerRepository
	classes       DrugClassRepository
}

func NewService(drugs DrugRepository, manufacturers ManufacturerRepository, classes DrugClassRepository) *Service {
	return &Service{drugs: drugs, manufacturers: manufacturers, classes: classes}
}

// ResolveManufacturer returns the manufacturer whose folded name matches name,
// creating it on first sight. An empty name resolves to UnknownManufacturer.
func (s *Service) ResolveManufacturer(ctx context.Context, name string) (*Manufacturer, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = UnknownManufacturer
	}
	m, created, err := s.manufacturers.GetOrCreate(ctx, name, NameKey(name))
	if err != nil {
		return nil, false, fmt.Errorf("resolve manufacturer: %w", err)
	}
	return m, created, nil
}

// ResolveClass uses the first pharmacologic class, or UnclassifiedClass when
// the list is empty or its first entry is blank.
func (s *Service) ResolveClass(ctx context.Context, pharmClass []string) (*DrugClass, bool, error) {
	name := ""
	if len(pharmClass) > 0 {
		name = strings.TrimSpace(pharmClass[0])
	}
	if name == "" {
		name = UnclassifiedClass
	}
	c, created, err := s.classes.GetOrCreate(ctx, name, NameKey(name))
	if err != nil {
		return nil, false, fmt.Errorf("resolve drug class: %w", err)
	}
	return c, created, nil
}

func (s *Service) UpsertDrug(ctx context.Context, d *Drug) (bool, error) {
	if strings.TrimSpace(d.BrandName) == "" && strings.TrimSpace(d.GenericName) == "" {
		return false, fmt.Errorf("%w: brand_name or generic_name is required", ErrInvalidDrug)
	}
	if d.ManufacturerID == uuid.Nil {
		return false, fmt.Errorf("%w: manufacturer is required", ErrInvalidDrug)
	}
	if d.ClassID == uuid.Nil {
		return false, fmt.Errorf("%w: drug class is required", ErrInvalidDrug)
	}
	if d.Description == "" {
		d.Description = d.IndicationsAndUsage
	}
	return s.drugs.Upsert(ctx, d)
}

func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.drugs.GetByID(ctx, id)
}

func (s *Service) SearchDrugs(ctx context.Context, params map[string]string, limit, offset int) ([]*Drug, int, error) {
	return s.drugs.Search(ctx, params, limit, offset)
}

func (s *Service) ListManufacturers(ctx context.Context, limit, offset int) ([]*Manufacturer, int, error) {
	return s.manufacturers.List(ctx, limit, offset)
}

func (s *Service) ListClasses(ctx context.Context, limit, offset int) ([]*DrugClass, int, error) {
	return s.classes.List(ctx, limit, offset)
}
