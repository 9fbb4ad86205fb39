package models

import (
	"errors"
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"github.com/go-json-experiment/json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Meta is a JSON value stored against an Owner.
type Meta struct {
	OwnerType OwnerType    `gorm:"primarykey;size:16"`
	OwnerID   snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	Key       string       `gorm:"primarykey;size:64;column:meta_key"`
	Value     string       `gorm:"type:text"`
	UpdatedAt time.Time
}

func (Meta) TableName() string { return "meta" }

type Metadata struct {
	db *gorm.DB
}

func NewMetadata(db *gorm.DB) *Metadata {
	return &Metadata{db: db}
}

// Get decodes the value stored under key into v. It reports false if there
// is no such value.
func (m *Metadata) Get(owner Owner, key string, v any) (bool, error) {
	var meta Meta
	err := m.db.Where("owner_type = ? AND owner_id = ? AND meta_key = ?", owner.Type, owner.ID, key).Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(meta.Value), v)
}

// Set stores v under key, replacing any existing value.
func (m *Metadata) Set(owner Owner, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}, {Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Meta{
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		Key:       key,
		Value:     string(b),
	}).Error
}

func (m *Metadata) Delete(owner Owner, key string) error {
	return m.db.Where("owner_type = ? AND owner_id = ? AND meta_key = ?", owner.Type, owner.ID, key).Delete(&Meta{}).Error
}
