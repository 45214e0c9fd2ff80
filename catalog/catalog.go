package catalog

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/cppla/mediavault/models"
)

// Catalog is the repository over MediaEntry records. Point lookups return
// (nil, nil) when the entry is absent; absence is a condition, not an error.
type Catalog interface {
	Insert(entry *models.MediaEntry) error
	GetByID(id uint) (*models.MediaEntry, error)
	GetByKey(key string) (*models.MediaEntry, error)
	ListPage(page, perPage int) ([]models.MediaEntry, int64, error)
	Search(query string) ([]models.MediaEntry, error)
	Delete(id uint) error
	TotalSize() (int64, error)
	AllKeys() ([]string, error)
}

// searchLimit caps substring search results; search is not paginated.
const searchLimit = 100

// GormCatalog implements Catalog on a gorm handle.
type GormCatalog struct {
	db *gorm.DB
}

// New wraps a gorm DB as a Catalog.
func New(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

// Insert persists a new entry and assigns its ID. A key collision maps to
// ErrDuplicateEntry; the unique index is the backstop behind the admission
// serialization.
func (c *GormCatalog) Insert(entry *models.MediaEntry) error {
	if err := c.db.Create(entry).Error; err != nil {
		if isDuplicateErr(err) {
			return models.ErrDuplicateEntry
		}
		return err
	}
	return nil
}

// GetByID returns the entry with the given ID, or nil when absent.
func (c *GormCatalog) GetByID(id uint) (*models.MediaEntry, error) {
	var entry models.MediaEntry
	if err := c.db.First(&entry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetByKey returns the entry with the given storage key, or nil when absent.
func (c *GormCatalog) GetByKey(key string) (*models.MediaEntry, error) {
	var entry models.MediaEntry
	if err := c.db.Where("`key` = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListPage returns one page of entries, newest first by insertion order.
// Ordering by id DESC keeps pages stable under concurrent inserts: new rows
// only ever appear ahead of an already-observed offset.
func (c *GormCatalog) ListPage(page, perPage int) ([]models.MediaEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int64
	if err := c.db.Model(&models.MediaEntry{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.MediaEntry
	offset := (page - 1) * perPage
	if err := c.db.Order("id DESC").Offset(offset).Limit(perPage).Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Search matches the query as a case-insensitive substring of the title or the
// declared mime type. Empty and non-matching queries return an empty slice.
func (c *GormCatalog) Search(query string) ([]models.MediaEntry, error) {
	entries := []models.MediaEntry{}
	query = strings.TrimSpace(query)
	if query == "" {
		return entries, nil
	}
	pattern := "%" + strings.ToLower(query) + "%"
	err := c.db.
		Where("LOWER(title) LIKE ? OR LOWER(mime_type) LIKE ?", pattern, pattern).
		Order("id DESC").
		Limit(searchLimit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the catalog row for id. Deleting an absent row is a no-op.
func (c *GormCatalog) Delete(id uint) error {
	return c.db.Delete(&models.MediaEntry{}, id).Error
}

// TotalSize sums size_bytes over all current entries; this derived figure is
// the usage number the admission quota check runs against.
func (c *GormCatalog) TotalSize() (int64, error) {
	var total int64
	err := c.db.Model(&models.MediaEntry{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AllKeys returns every storage key currently in the catalog. Used by the
// consistency sweeper to cross-check the blob store.
func (c *GormCatalog) AllKeys() ([]string, error) {
	var keys []string
	if err := c.db.Model(&models.MediaEntry{}).Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint")
}
