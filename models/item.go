package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"gorm.io/gorm"
)

// Item is the canonical identity every lot and sale hangs off. Allocation
// matching goes through item ids, never through string comparison on the
// name a user happened to type.
type Item struct {
	ID             int       `gorm:"primary_key" json:"id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	NormalizedName string    `gorm:"size:100;not null;uniqueIndex" json:"normalized_name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ItemAlias maps an alternate normalized spelling onto a canonical item.
// Aliases are created only by explicit administrative action; near-duplicate
// names are never merged automatically.
type ItemAlias struct {
	ID             int       `gorm:"primary_key" json:"id"`
	ItemID         int       `gorm:"index;not null" json:"item_id"`
	NormalizedName string    `gorm:"size:100;not null;uniqueIndex" json:"normalized_name"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ResolveItem resolves a user-entered name to its canonical item, walking the
// alias table first. Purchase entry passes createIfMissing=true (a new
// material becomes an item the first time it is bought); sales never create
// items.
func ResolveItem(tx *gorm.DB, name string, createIfMissing bool) (*Item, error) {
	normalized := utils.NormalizeItemName(name)
	if normalized == "" {
		return nil, &utils.ValidationError{Field: "itemName", Reason: "must not be blank"}
	}

	var item Item
	err := tx.Where("normalized_name = ?", normalized).First(&item).Error
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var alias ItemAlias
	err = tx.Where("normalized_name = ?", normalized).First(&alias).Error
	if err == nil {
		if err := tx.Where("id = ?", alias.ItemID).First(&item).Error; err != nil {
			return nil, err
		}
		return &item, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if !createIfMissing {
		return nil, utils.ErrRecordNotFound
	}

	item = Item{Name: name, NormalizedName: normalized}
	if err := tx.Create(&item).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			// Lost a create race; the winner's row is the canonical one.
			if ferr := tx.Where("normalized_name = ?", normalized).First(&item).Error; ferr == nil {
				return &item, nil
			}
		}
		return nil, err
	}
	return &item, nil
}

// CreateItemAlias links an alternate spelling to an existing canonical item.
// It refuses to alias a name that already is a canonical item: folding two
// canonical items together is a business decision, not a data operation.
func CreateItemAlias(ctx context.Context, aliasName string, itemId int) (*ItemAlias, error) {
	normalized := utils.NormalizeItemName(aliasName)
	if normalized == "" {
		return nil, &utils.ValidationError{Field: "aliasName", Reason: "must not be blank"}
	}

	db := config.GetDB()
	var alias *ItemAlias
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var item Item
	if err := tx.Where("id = ?", itemId).First(&item).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}

	var count int64
	if err := tx.Model(&Item{}).Where("normalized_name = ?", normalized).Count(&count).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if count > 0 {
		tx.Rollback()
		return nil, &utils.ValidationError{Field: "aliasName", Reason: "already a canonical item"}
	}

	alias = &ItemAlias{ItemID: item.ID, NormalizedName: normalized}
	if err := tx.Create(alias).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return alias, tx.Commit().Error
}

func GetItemByName(ctx context.Context, name string) (*Item, error) {
	db := config.GetDB()
	return ResolveItem(db.WithContext(ctx), name, false)
}

func GetItems(ctx context.Context) ([]Item, error) {
	db := config.GetDB()
	var items []Item
	err := db.WithContext(ctx).Order("normalized_name ASC").Find(&items).Error
	return items, err
}
