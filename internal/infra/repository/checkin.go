package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atgeo/checkind/internal/domain"
	"github.com/atgeo/checkind/internal/infra/database/models"
)

type CheckinRepository struct {
	db *gorm.DB
}

func NewCheckinRepository(db *gorm.DB) *CheckinRepository {
	return &CheckinRepository{db: db}
}

// Upsert stores a canonical check-in keyed by URI. Core fields are
// last-write-wins; venue and address fields only overwrite when the
// incoming value is non-empty, so an address backfilled after a failed
// pointer fetch survives a pointer-only re-crawl.
func (r *CheckinRepository) Upsert(ctx context.Context, c domain.Checkin) error {
	row := checkinToModel(c)
	row.IndexedAt = time.Now().UTC()

	preserve := func(column string) any {
		return gorm.Expr("COALESCE(NULLIF(excluded." + column + ", ''), checkins." + column + ")")
	}

	assignments := map[string]any{
		"author_did":          row.AuthorDID,
		"text":                row.Text,
		"created_at":          row.CreatedAt,
		"latitude":            row.Latitude,
		"longitude":           row.Longitude,
		"venue_name":          preserve("venue_name"),
		"category":            preserve("category"),
		"category_group":      preserve("category_group"),
		"category_icon":       preserve("category_icon"),
		"address_street":      preserve("address_street"),
		"address_locality":    preserve("address_locality"),
		"address_region":      preserve("address_region"),
		"address_country":     preserve("address_country"),
		"address_postal_code": preserve("address_postal_code"),
		"address_ref_uri":     preserve("address_ref_uri"),
		"address_ref_cid":     preserve("address_ref_cid"),
		"source_lexicon":      row.SourceLexicon,
		"indexed_at":          row.IndexedAt,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uri"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
}

// GetByURI returns one canonical check-in.
func (r *CheckinRepository) GetByURI(ctx context.Context, uri string) (domain.Checkin, error) {
	var row models.Checkin
	err := r.db.WithContext(ctx).Where("uri = ?", uri).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Checkin{}, domain.NotFoundError{Resource: "checkin"}
	}
	if err != nil {
		return domain.Checkin{}, err
	}
	return checkinToDomain(row), nil
}

// List returns check-ins newest first, optionally filtered by author.
func (r *CheckinRepository) List(ctx context.Context, authorDID string, limit int) ([]domain.Checkin, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if authorDID != "" {
		q = q.Where("author_did = ?", authorDID)
	}

	var rows []models.Checkin
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	checkins := make([]domain.Checkin, 0, len(rows))
	for _, row := range rows {
		checkins = append(checkins, checkinToDomain(row))
	}
	return checkins, nil
}

// ListMissingAddress returns check-ins that still carry an unresolved
// address pointer, for the backfill job.
func (r *CheckinRepository) ListMissingAddress(ctx context.Context, limit int) ([]domain.Checkin, error) {
	var rows []models.Checkin
	err := r.db.WithContext(ctx).
		Where("address_ref_uri <> ''").
		Where("address_street = '' AND address_locality = ''").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	checkins := make([]domain.Checkin, 0, len(rows))
	for _, row := range rows {
		checkins = append(checkins, checkinToDomain(row))
	}
	return checkins, nil
}

// UpdateAddress fills in the address fields of an existing check-in.
func (r *CheckinRepository) UpdateAddress(ctx context.Context, uri string, venueName string, addr domain.Address) error {
	updates := map[string]any{
		"address_street":      addr.Street,
		"address_locality":    addr.Locality,
		"address_region":      addr.Region,
		"address_country":     addr.Country,
		"address_postal_code": addr.PostalCode,
	}
	if venueName != "" {
		updates["venue_name"] = venueName
	}

	return r.db.WithContext(ctx).Model(&models.Checkin{}).
		Where("uri = ?", uri).
		Updates(updates).Error
}

func checkinToModel(c domain.Checkin) models.Checkin {
	return models.Checkin{
		URI:               c.URI,
		AuthorDID:         c.AuthorDID,
		Text:              c.Text,
		CreatedAt:         c.CreatedAt,
		Latitude:          c.Latitude,
		Longitude:         c.Longitude,
		VenueName:         c.VenueName,
		Category:          c.Category,
		CategoryGroup:     c.CategoryGroup,
		CategoryIcon:      c.CategoryIcon,
		AddressStreet:     c.Address.Street,
		AddressLocality:   c.Address.Locality,
		AddressRegion:     c.Address.Region,
		AddressCountry:    c.Address.Country,
		AddressPostalCode: c.Address.PostalCode,
		AddressRefURI:     c.AddressRefURI,
		AddressRefCID:     c.AddressRefCID,
		SourceLexicon:     c.SourceLexicon,
		IndexedAt:         c.IndexedAt,
	}
}

func checkinToDomain(row models.Checkin) domain.Checkin {
	return domain.Checkin{
		ID:        row.ID,
		URI:       row.URI,
		AuthorDID: row.AuthorDID,
		Text:      row.Text,
		CreatedAt: row.CreatedAt,
		Latitude:  row.Latitude,
		Longitude: row.Longitude,
		VenueName: row.VenueName,
		Category:  row.Category,
		CategoryGroup: row.CategoryGroup,
		CategoryIcon:  row.CategoryIcon,
		Address: domain.Address{
			Street:     row.AddressStreet,
			Locality:   row.AddressLocality,
			Region:     row.AddressRegion,
			Country:    row.AddressCountry,
			PostalCode: row.AddressPostalCode,
		},
		AddressRefURI: row.AddressRefURI,
		AddressRefCID: row.AddressRefCID,
		SourceLexicon: row.SourceLexicon,
		IndexedAt:     row.IndexedAt,
	}
}
