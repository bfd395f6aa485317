package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
)

// EntrySchemaVersion is stamped onto every newly generated entry and seat.
const EntrySchemaVersion = 2

// SeatEntry is one seat-scoped scannable code nested inside a screen entry.
type SeatEntry struct {
	ID          uuid.UUID      `json:"id"`
	SeatLabel   string         `json:"seat_label"`
	AssetRef    string         `json:"asset_ref"`
	ScanTarget  string         `json:"scan_target"`
	LogoRef     string         `json:"logo_ref,omitempty"`
	LogoKind    enums.LogoKind `json:"logo_kind,omitempty"`
	ScanCount   int64          `json:"scan_count"`
	IsActive    bool           `json:"is_active"`
	GeneratedBy string         `json:"generated_by,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CodeEntry is one named scannable-code record. A single entry carries its own
// asset; a screen entry owns an ordered list of seat entries instead.
type CodeEntry struct {
	ID            uuid.UUID       `json:"id"`
	Kind          enums.AssetKind `json:"kind"`
	DisplayName   string          `json:"display_name"`
	SeatClass     string          `json:"seat_class,omitempty"`
	AssetRef      string          `json:"asset_ref,omitempty"`
	ScanTarget    string          `json:"scan_target,omitempty"`
	LogoRef       string          `json:"logo_ref,omitempty"`
	LogoKind      enums.LogoKind  `json:"logo_kind,omitempty"`
	ScanCount     int64           `json:"scan_count"`
	IsActive      bool            `json:"is_active"`
	Seats         []SeatEntry     `json:"seats,omitempty"`
	GeneratedBy   string          `json:"generated_by,omitempty"`
	GeneratedAt   time.Time       `json:"generated_at"`
	SchemaVersion int             `json:"schema_version"`
}

// MatchesScreenKey reports whether this entry claims the screen dedup key
// (kind=screen, display name, seat class). Comparison is case-sensitive.
func (e *CodeEntry) MatchesScreenKey(displayName, seatClass string) bool {
	return e.Kind == enums.AssetKindScreen &&
		e.DisplayName == displayName &&
		e.SeatClass == seatClass
}

// Seat returns the seat with the given id, or nil.
func (e *CodeEntry) Seat(seatID uuid.UUID) *SeatEntry {
	for i := range e.Seats {
		if e.Seats[i].ID == seatID {
			return &e.Seats[i]
		}
	}
	return nil
}

// HasSeatLabel reports whether a seat with the exact label exists.
func (e *CodeEntry) HasSeatLabel(label string) bool {
	for i := range e.Seats {
		if e.Seats[i].SeatLabel == label {
			return true
		}
	}
	return false
}

// LeafCount counts the scannable leaves owned by the entry. A deactivated
// screen entry contributes no active leaves regardless of its seats' own
// flags, so reactivating the entry restores the per-seat states.
func (e *CodeEntry) LeafCount() (total, active int) {
	if e.Kind == enums.AssetKindSingle {
		total = 1
		if e.IsActive {
			active = 1
		}
		return total, active
	}
	total = len(e.Seats)
	if !e.IsActive {
		return total, 0
	}
	for i := range e.Seats {
		if e.Seats[i].IsActive {
			active++
		}
	}
	return total, active
}

// CodeEntryList stores the nested entry tree as a single JSON document column.
type CodeEntryList []CodeEntry

func (l CodeEntryList) Value() (driver.Value, error) {
	if l == nil {
		l = CodeEntryList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("CodeEntryList: marshal: %w", err)
	}
	return string(data), nil
}

func (l *CodeEntryList) Scan(src any) error {
	if src == nil {
		*l = CodeEntryList{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("CodeEntryList: unsupported Scan type %T", src)
	}
	if len(data) == 0 {
		*l = CodeEntryList{}
		return nil
	}
	return json.Unmarshal(data, l)
}

// VenueAssetContainer is the single per-venue document owning every code
// entry and nested seat entry. Aggregate counters are denormalized into
// columns so summaries never unpack the document, and the version column is
// compared-and-swapped on every write.
type VenueAssetContainer struct {
	ID              uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	VenueID         string        `gorm:"column:venue_id;not null;uniqueIndex"`
	Entries         CodeEntryList `gorm:"column:entries;type:jsonb;not null"`
	IsActive        bool          `gorm:"column:is_active;not null;default:true"`
	TotalCodes      int           `gorm:"column:total_codes;not null;default:0"`
	ActiveCodes     int           `gorm:"column:active_codes;not null;default:0"`
	TotalScans      int64         `gorm:"column:total_scans;not null;default:0"`
	LastGeneratedAt *time.Time    `gorm:"column:last_generated_at"`
	Version         int64         `gorm:"column:version;not null;default:0"`
	CreatedAt       time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name independent of GORM pluralization.
func (VenueAssetContainer) TableName() string {
	return "venue_asset_containers"
}

// Entry returns the entry with the given id, or nil.
func (c *VenueAssetContainer) Entry(entryID uuid.UUID) *CodeEntry {
	for i := range c.Entries {
		if c.Entries[i].ID == entryID {
			return &c.Entries[i]
		}
	}
	return nil
}

// ScreenEntryByKey returns the screen entry matching the dedup key, or nil.
func (c *VenueAssetContainer) ScreenEntryByKey(displayName, seatClass string) *CodeEntry {
	for i := range c.Entries {
		if c.Entries[i].MatchesScreenKey(displayName, seatClass) {
			return &c.Entries[i]
		}
	}
	return nil
}

// RemoveEntry deletes the entry with the given id, preserving order.
// It reports whether an entry was removed.
func (c *VenueAssetContainer) RemoveEntry(entryID uuid.UUID) bool {
	for i := range c.Entries {
		if c.Entries[i].ID == entryID {
			c.Entries = append(c.Entries[:i], c.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Recount recomputes the aggregate counters from the entry tree. TotalScans
// is left alone: it is maintained by increments, not recounts.
func (c *VenueAssetContainer) Recount() {
	total, active := 0, 0
	for i := range c.Entries {
		entryTotal, entryActive := c.Entries[i].LeafCount()
		total += entryTotal
		active += entryActive
	}
	c.TotalCodes = total
	c.ActiveCodes = active
}

// ContainerAggregate is the derived summary cached on the container.
type ContainerAggregate struct {
	VenueID         string     `json:"venue_id"`
	TotalCodes      int        `json:"total_codes"`
	ActiveCodes     int        `json:"active_codes"`
	TotalScans      int64      `json:"total_scans"`
	LastGeneratedAt *time.Time `json:"last_generated_at,omitempty"`
}

// Aggregate snapshots the denormalized counters.
func (c *VenueAssetContainer) Aggregate() ContainerAggregate {
	return ContainerAggregate{
		VenueID:         c.VenueID,
		TotalCodes:      c.TotalCodes,
		ActiveCodes:     c.ActiveCodes,
		TotalScans:      c.TotalScans,
		LastGeneratedAt: c.LastGeneratedAt,
	}
}
