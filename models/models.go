// Package models holds the durable state of the webmention engine: content
// items, annotations, the inbound webmention queue, outbound delivery
// records, per owner metadata, and scheduled jobs.
package models

import (
	"encoding/hex"
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// OwnerType is the kind of record delivery state and metadata hang off.
type OwnerType string

const (
	OwnerItem       OwnerType = "item"
	OwnerAnnotation OwnerType = "annotation"
)

func (OwnerType) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('item', 'annotation')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// Owner identifies a content item or an annotation.
type Owner struct {
	Type OwnerType
	ID   snowflake.ID
}

func (o Owner) String() string {
	return string(o.Type) + ":" + o.ID.String()
}

// Request holds the bookkeeping shared by records which are retried in the
// background.
type Request struct {
	ID uint32 `gorm:"primarykey;"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt time.Time
	// LastResult is the result of the last attempt if it failed.
	LastResult string `gorm:"type:text;"`
}

// HashURL returns the key under which per URL state is stored.
func HashURL(u string) string {
	sum := blake2b.Sum256([]byte(u))
	return hex.EncodeToString(sum[:])
}

func forEach(tx *gorm.DB, fns ...func(tx *gorm.DB) error) error {
	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}
