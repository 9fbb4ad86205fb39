package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ErrDuplicateAnnotation is returned when an annotation for the same source
// and target already exists.
var ErrDuplicateAnnotation = errors.New("duplicate annotation")

// An Annotation is a reaction to an Item, typically received as a webmention.
type Annotation struct {
	snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ItemID       snowflake.ID `gorm:"not null;index"`
	Item         *Item        `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	// ParentID is the annotation this annotation replies to, if any.
	ParentID     *snowflake.ID
	Parent       *Annotation    `gorm:"constraint:OnDelete:SET NULL;<-:false;"`
	AuthorName   string         `gorm:"size:255;not null;default:''"`
	AuthorURL    string         `gorm:"size:255;not null;default:'';index"`
	AuthorAvatar string         `gorm:"size:255;not null;default:''"`
	Body         string         `gorm:"type:text"`
	Approved     bool           `gorm:"not null;default:false"`
	Kind         AnnotationKind `gorm:"not null;default:'mention'"`
	// Source is the remote document which produced the annotation.
	Source string `gorm:"size:2048;not null"`
	// Target is the local URL the source mentions.
	Target string `gorm:"size:2048;not null"`
	// Hash is the hash of Source and Target, unique per annotation.
	Hash string `gorm:"size:64;not null;uniqueIndex"`
	// URL is the canonical URL of the remote entry.
	URL         string `gorm:"size:2048;not null;default:''"`
	PublishedAt *time.Time
}

type AnnotationKind string

const (
	KindNone     AnnotationKind = "none"
	KindMention  AnnotationKind = "mention"
	KindReply    AnnotationKind = "reply"
	KindLike     AnnotationKind = "like"
	KindBookmark AnnotationKind = "bookmark"
	KindRepost   AnnotationKind = "repost"
	KindRead     AnnotationKind = "read"
)

func (AnnotationKind) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('none', 'mention', 'reply', 'like', 'bookmark', 'repost', 'read')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

func (a *Annotation) BeforeSave(tx *gorm.DB) error {
	a.Hash = sourceTargetHash(a.Source, a.Target)
	return nil
}

func sourceTargetHash(source, target string) string {
	return HashURL(source + " " + target)
}

// Owner returns the Owner of the annotation's delivery state.
func (a *Annotation) Owner() Owner {
	return Owner{Type: OwnerAnnotation, ID: a.ID}
}

// Anchor returns the fragment identifying the annotation on its item's page.
func (a *Annotation) Anchor() string {
	return fmt.Sprintf("annotation-%d", a.ID)
}

type Annotations struct {
	db *gorm.DB
}

func NewAnnotations(db *gorm.DB) *Annotations {
	return &Annotations{db: db}
}

func (a *Annotations) FindByID(id snowflake.ID) (*Annotation, error) {
	var annotation Annotation
	return &annotation, a.db.Preload("Item").Preload("Parent").Take(&annotation, id).Error
}

// FindBySourceTarget returns the annotation produced by source for target,
// or gorm.ErrRecordNotFound.
func (a *Annotations) FindBySourceTarget(source, target string) (*Annotation, error) {
	var annotation Annotation
	if err := a.db.Where("hash = ?", sourceTargetHash(source, target)).Take(&annotation).Error; err != nil {
		return nil, err
	}
	return &annotation, nil
}

// ForItem returns the annotations attached to the item, oldest first.
func (a *Annotations) ForItem(itemID snowflake.ID) ([]*Annotation, error) {
	var annotations []*Annotation
	return annotations, a.db.Where("item_id = ?", itemID).Order("id asc").Find(&annotations).Error
}

// Create inserts a new annotation. ErrDuplicateAnnotation is returned if an
// annotation for the same source and target exists.
func (a *Annotations) Create(annotation *Annotation) error {
	if annotation.ID == 0 {
		annotation.ID = snowflake.Now()
	}
	err := a.db.Omit(clause.Associations).Create(annotation).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s %s: %w", annotation.Source, annotation.Target, ErrDuplicateAnnotation)
	}
	return err
}

// Update saves every field of the annotation.
func (a *Annotations) Update(annotation *Annotation) error {
	return a.db.Omit(clause.Associations).Save(annotation).Error
}

func (a *Annotations) Delete(annotation *Annotation) error {
	return a.db.Delete(annotation).Error
}

// Approve marks the annotation approved.
func (a *Annotations) Approve(annotation *Annotation) error {
	annotation.Approved = true
	return a.db.Model(annotation).UpdateColumn("approved", true).Error
}

// KnownAuthor reports whether authorURL has an approved annotation.
func (a *Annotations) KnownAuthor(authorURL string) (bool, error) {
	if authorURL == "" {
		return false, nil
	}
	var count int64
	err := a.db.Model(&Annotation{}).Where("author_url = ? AND approved = ?", authorURL, true).Count(&count).Error
	return count > 0, err
}
