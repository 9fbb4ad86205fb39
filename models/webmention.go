package models

import (
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// A Webmention is a received notification waiting to be, or having been,
// verified.
type Webmention struct {
	ID         uint32 `gorm:"primarykey;"`
	CreatedAt  time.Time
	ModifiedAt time.Time `gorm:"autoUpdateTime"`
	Source     string    `gorm:"size:2048;not null"`
	Target     string    `gorm:"size:2048;not null"`
	ItemID     snowflake.ID `gorm:"not null;index"`
	Item       *Item        `gorm:"constraint:OnDelete:CASCADE;<-:false;"`
	// IP is the address of the sender.
	IP     string           `gorm:"size:45;not null;default:''"`
	Status WebmentionStatus `gorm:"not null;default:'draft';index"`
	// Attempts counts verifications which ended without a verdict.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastResult describes the last verification attempt.
	LastResult string `gorm:"type:text;"`
}

type WebmentionStatus string

const (
	WebmentionDraft     WebmentionStatus = "draft"
	WebmentionCreated   WebmentionStatus = "created"
	WebmentionUpdated   WebmentionStatus = "updated"
	WebmentionDeleted   WebmentionStatus = "deleted"
	WebmentionInvalid   WebmentionStatus = "invalid"
	WebmentionDuplicate WebmentionStatus = "duplicate"
)

func (WebmentionStatus) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('draft', 'created', 'updated', 'deleted', 'invalid', 'duplicate')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// Terminal reports whether the status is final.
func (s WebmentionStatus) Terminal() bool {
	return s != WebmentionDraft
}

type Webmentions struct {
	db *gorm.DB
}

func NewWebmentions(db *gorm.DB) *Webmentions {
	return &Webmentions{db: db}
}

// Create queues a draft webmention. Identical requests are not coalesced.
func (w *Webmentions) Create(source, target string, itemID snowflake.ID, ip string) (*Webmention, error) {
	wm := &Webmention{
		Source: source,
		Target: target,
		ItemID: itemID,
		IP:     ip,
		Status: WebmentionDraft,
	}
	return wm, w.db.Create(wm).Error
}

// Pending returns up to limit draft webmentions, those deferred the fewest
// times first, then oldest first.
func (w *Webmentions) Pending(limit int) ([]*Webmention, error) {
	var pending []*Webmention
	err := w.db.Preload("Item").
		Where("status = ?", WebmentionDraft).
		Order("attempts asc, id asc").
		Limit(limit).
		Find(&pending).Error
	return pending, err
}

// Find returns webmentions, newest first, optionally filtered by status.
func (w *Webmentions) Find(status WebmentionStatus, limit int) ([]*Webmention, error) {
	var found []*Webmention
	query := w.db.Order("id desc").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return found, query.Find(&found).Error
}

// Mark moves the webmention to status, recording result.
func (w *Webmentions) Mark(wm *Webmention, status WebmentionStatus, result string) error {
	wm.Status = status
	wm.LastResult = result
	return w.db.Model(wm).Updates(map[string]interface{}{
		"status":      status,
		"last_result": result,
	}).Error
}

// Defer leaves the webmention in draft, counting the attempt.
func (w *Webmentions) Defer(wm *Webmention, result string) error {
	wm.Attempts++
	wm.LastResult = result
	return w.db.Model(wm).Updates(map[string]interface{}{
		"attempts":    gorm.Expr("attempts + 1"),
		"last_result": result,
	}).Error
}
