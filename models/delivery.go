package models

import (
	"errors"
	"time"

	"github.com/davecheney/mention/internal/snowflake"
	"gorm.io/gorm"
)

// MaxDeliveryAttempts is the number of failed sends after which a target
// is abandoned.
const MaxDeliveryAttempts = 3

// A DeliveryAttempt is the retry state of an outbound webmention.
type DeliveryAttempt struct {
	// Count is the number of failed sends.
	Count uint32 `gorm:"column:retries;not null;default:0"`
	// LastError is the error from the most recent failed send.
	LastError string `gorm:"column:last_error;type:text"`
	// NextEligibleAt is the earliest time of the next send.
	NextEligibleAt *time.Time `gorm:"column:next_eligible_at"`
}

// Exhausted reports whether no further sends should be made.
func (a DeliveryAttempt) Exhausted() bool {
	return a.Count >= MaxDeliveryAttempts
}

// A DeliveryRecord is the outbound state of a webmention sent on behalf of
// an Owner to one target.
type DeliveryRecord struct {
	ID        uint32 `gorm:"primarykey;"`
	CreatedAt time.Time
	UpdatedAt time.Time
	OwnerType OwnerType    `gorm:"size:16;not null;uniqueIndex:uidx_delivery_records_owner_hash"`
	OwnerID   snowflake.ID `gorm:"not null;uniqueIndex:uidx_delivery_records_owner_hash"`
	// Hash is HashURL(Target).
	Hash     string `gorm:"size:64;not null;uniqueIndex:uidx_delivery_records_owner_hash"`
	Target   string `gorm:"type:text"`
	Endpoint string `gorm:"type:text"`
	// SentAt is set once the endpoint has accepted or rejected the
	// webmention. A sent record is never retried.
	SentAt       *time.Time
	ResponseCode int             `gorm:"not null;default:0"`
	Attempt      DeliveryAttempt `gorm:"embedded"`
}

func (r *DeliveryRecord) Sent() bool { return r.SentAt != nil }

type Deliveries struct {
	db *gorm.DB
}

func NewDeliveries(db *gorm.DB) *Deliveries {
	return &Deliveries{db: db}
}

// Find returns the record for target, or a new unsaved record if there is
// none.
func (d *Deliveries) Find(owner Owner, target string) (*DeliveryRecord, error) {
	var rec DeliveryRecord
	err := d.db.Where("owner_type = ? AND owner_id = ? AND hash = ?", owner.Type, owner.ID, HashURL(target)).Take(&rec).Error
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &DeliveryRecord{
			OwnerType: owner.Type,
			OwnerID:   owner.ID,
			Hash:      HashURL(target),
			Target:    target,
		}, nil
	default:
		return nil, err
	}
}

func (d *Deliveries) Save(rec *DeliveryRecord) error {
	return d.db.Save(rec).Error
}

// ForOwner returns the owner's records in the order they were created.
func (d *Deliveries) ForOwner(owner Owner) ([]*DeliveryRecord, error) {
	var recs []*DeliveryRecord
	return recs, d.db.Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID).Order("id asc").Find(&recs).Error
}

// DeleteForOwner removes every record of the owner.
func (d *Deliveries) DeleteForOwner(owner Owner) error {
	return d.db.Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID).Delete(&DeliveryRecord{}).Error
}
