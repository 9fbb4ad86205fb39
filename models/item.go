package models

import (
	"errors"
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// An Item is a piece of content published by this site.
type Item struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Type is the kind of content, eg. article or note.
	Type  string `gorm:"size:32;not null;default:'article'"`
	Slug  string `gorm:"size:191;uniqueIndex;not null"`
	Title string `gorm:"size:255;not null;default:''"`
	// Body is the rendered HTML of the item.
	Body   string     `gorm:"type:text"`
	Status ItemStatus `gorm:"not null;default:'draft'"`
	// CommentsOpen controls whether new annotations are accepted.
	CommentsOpen bool `gorm:"not null;default:true"`
	PublishedAt  *time.Time
}

type ItemStatus string

const (
	ItemDraft     ItemStatus = "draft"
	ItemPublished ItemStatus = "published"
	ItemTrashed   ItemStatus = "trashed"
)

func (ItemStatus) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('draft', 'published', 'trashed')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

func (i *Item) BeforeSave(tx *gorm.DB) error {
	return forEach(tx, i.maybeSetPublishedAt)
}

// maybeSetPublishedAt records the first time the item was published.
func (i *Item) maybeSetPublishedAt(tx *gorm.DB) error {
	if i.Status == ItemPublished && i.PublishedAt == nil {
		now := time.Now()
		i.PublishedAt = &now
	}
	return nil
}

// Owner returns the Owner of the item's delivery state.
func (i *Item) Owner() Owner {
	return Owner{Type: OwnerItem, ID: i.ID}
}

func (i *Item) Published() bool { return i.Status == ItemPublished }

type Items struct {
	db *gorm.DB
}

func NewItems(db *gorm.DB) *Items {
	return &Items{db: db}
}

// Create creates a new draft item.
func (i *Items) Create(typ, slug, title, body string) (*Item, error) {
	if slug == "" {
		return nil, errors.New("slug is required")
	}
	item := &Item{
		ID:           snowflake.Now(),
		Type:         typ,
		Slug:         slug,
		Title:        title,
		Body:         body,
		Status:       ItemDraft,
		CommentsOpen: true,
	}
	return item, i.db.Create(item).Error
}

func (i *Items) FindByID(id snowflake.ID) (*Item, error) {
	var item Item
	return &item, i.db.Take(&item, id).Error
}

func (i *Items) FindBySlug(slug string) (*Item, error) {
	var item Item
	return &item, i.db.Where("slug = ?", slug).Take(&item).Error
}

// Publish moves the item to the published state.
func (i *Items) Publish(item *Item) error {
	item.Status = ItemPublished
	return i.db.Save(item).Error
}

// Trash moves the item to the trashed state.
func (i *Items) Trash(item *Item) error {
	item.Status = ItemTrashed
	return i.db.Save(item).Error
}

// SetCommentsOpen opens or closes the item to new annotations.
func (i *Items) SetCommentsOpen(item *Item, open bool) error {
	item.CommentsOpen = open
	return i.db.Model(item).UpdateColumn("comments_open", open).Error
}
