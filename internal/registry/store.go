package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists instances.
type Store interface {
	Insert(ctx context.Context, d Detail) (Instance, error)
	FindByLink(ctx context.Context, link string) (Instance, error)
	DeleteByLink(ctx context.Context, link string) error
	MergeUpdate(ctx context.Context, link string, d Detail) (Instance, error)
	ListVerified(ctx context.Context, from Point) ([]RankedInstance, error)
}

// instanceColumns selects an instance row with the region decoded to GeoJSON.
const instanceColumns = `
	id, name, link, websocket_link,
	ST_AsGeoJSON(region) AS region,
	image_url, user_count, policy_links, status,
	created_at, updated_at, last_fetched_at`

const uniqueViolation = "23505"

// GormStore is the PostGIS-backed Store.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Insert creates a verified instance. A link that is already registered
// yields a conflict error and leaves the existing row untouched.
func (s *GormStore) Insert(ctx context.Context, d Detail) (Instance, error) {
	if d.Link == nil {
		return Instance{}, NewMissingFieldsError([]string{FieldLink})
	}
	now := s.now().UTC()
	inst := Instance{
		ID:            uuid.New(),
		Name:          deref(d.Name),
		Link:          *d.Link,
		WebsocketLink: deref(d.WebsocketLink),
		Region:        d.Region,
		ImageURL:      deref(d.ImageURL),
		PolicyLinks:   datatypes.NewJSONType(d.mergePolicyLinks(PolicyLinks{})),
		Status:        StatusVerified,
		CreatedAt:     now,
		UpdatedAt:     d.UpdatedAt,
		LastFetchedAt: &now,
	}
	if d.UserCount != nil {
		inst.UserCount = *d.UserCount
	}

	if err := s.db.WithContext(ctx).Create(&inst).Error; err != nil {
		if isDuplicateKey(err) {
			return Instance{}, NewConflictError(inst.Link, err)
		}
		return Instance{}, NewInternalError("insert instance", err)
	}
	return inst, nil
}

func (s *GormStore) FindByLink(ctx context.Context, link string) (Instance, error) {
	return s.findByLink(s.db.WithContext(ctx), link, false)
}

func (s *GormStore) findByLink(tx *gorm.DB, link string, forUpdate bool) (Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM registry.instances WHERE link = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var inst Instance
	res := tx.Raw(query, link).Scan(&inst)
	if res.Error != nil {
		return Instance{}, NewInternalError("find instance", res.Error)
	}
	if res.RowsAffected == 0 {
		return Instance{}, NewNotFoundError(link)
	}
	return inst, nil
}

func (s *GormStore) DeleteByLink(ctx context.Context, link string) error {
	res := s.db.WithContext(ctx).Where("link = ?", link).Delete(&Instance{})
	if res.Error != nil {
		return NewInternalError("delete instance", res.Error)
	}
	if res.RowsAffected == 0 {
		return NewNotFoundError(link)
	}
	return nil
}

// MergeUpdate overwrites the stored fields that d carries and keeps the rest.
// The link is never changed. last_fetched_at always advances.
func (s *GormStore) MergeUpdate(ctx context.Context, link string, d Detail) (Instance, error) {
	var merged Instance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.findByLink(tx, link, true)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updatedAt := now
		if d.UpdatedAt != nil {
			updatedAt = *d.UpdatedAt
		}
		updates := map[string]interface{}{
			"last_fetched_at": now,
			"updated_at":      updatedAt,
			"policy_links":    datatypes.NewJSONType(d.mergePolicyLinks(current.PolicyLinks.Data())),
		}
		if d.Name != nil {
			updates["name"] = *d.Name
		}
		if d.WebsocketLink != nil {
			updates["websocket_link"] = *d.WebsocketLink
		}
		if d.Region != nil {
			updates["region"] = *d.Region
		}
		if d.ImageURL != nil {
			updates["image_url"] = *d.ImageURL
		}
		if d.UserCount != nil {
			updates["user_count"] = *d.UserCount
		}

		if err := tx.Model(&Instance{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
			return NewInternalError("merge instance", err)
		}

		merged, err = s.findByLink(tx, link, false)
		return err
	})
	if err != nil {
		if AsError(err) != nil {
			return Instance{}, err
		}
		return Instance{}, NewInternalError("merge instance", err)
	}
	return merged, nil
}

// ListVerified returns verified instances ordered by geodesic distance from
// `from`. Instances without a region come last with a nil distance.
func (s *GormStore) ListVerified(ctx context.Context, from Point) ([]RankedInstance, error) {
	return s.listByStatus(ctx, from, StatusVerified)
}

func (s *GormStore) listByStatus(ctx context.Context, from Point, statuses ...Status) ([]RankedInstance, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	query := `
		SELECT ` + instanceColumns + `,
			ST_Distance(
				region::geography,
				ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography
			) AS distance
		FROM registry.instances
		WHERE status = ANY(?)
		ORDER BY distance ASC NULLS LAST, created_at ASC, id ASC
	`

	var ranked []RankedInstance
	if err := s.db.WithContext(ctx).Raw(query, from.Lng, from.Lat, pq.Array(names)).Scan(&ranked).Error; err != nil {
		return nil, NewInternalError("distance ranking query", fmt.Errorf("list by status: %w", err))
	}
	return ranked, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
