package repository

import (
	"context"

	"coursepay/internal/domain/model"
)

// CourseCatalog is the read side of the course catalog.
type CourseCatalog interface {
	FindByID(ctx context.Context, id string) (*model.Course, error)
	// ListIDs returns ids of all published courses, ordered by id.
	ListIDs(ctx context.Context) ([]string, error)
	// FindIDBySuffix returns domain.ErrNotFound when zero or more than one course matches.
	FindIDBySuffix(ctx context.Context, suffix string) (string, error)
}
