package assets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/curtaincall-app/curtaincall-backend/pkg/db"
	"github.com/curtaincall-app/curtaincall-backend/pkg/db/models"
	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	pkgerrors "github.com/curtaincall-app/curtaincall-backend/pkg/errors"
)

// casMaxAttempts bounds the optimistic-concurrency retry loop. Every write
// compares-and-swaps the container's version column; a concurrent writer
// forces a re-read and re-apply rather than a lost update.
const casMaxAttempts = 5

// AutoMigrate creates the container table. Production schemas are managed
// out of band; this covers dev bootstrapping and tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(&models.VenueAssetContainer{})
}

// Repository owns the per-venue container document and its nested entries.
// All mutations are atomic read-modify-write cycles guarded by the version
// column. The repository never touches blob storage: asset cleanup ordering
// is the orchestrator's responsibility.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a container repository bound to the provided gorm DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

// GetByVenue loads a venue's container.
func (r *Repository) GetByVenue(ctx context.Context, venueID string) (*models.VenueAssetContainer, error) {
	var container models.VenueAssetContainer
	err := r.db.WithContext(ctx).Where("venue_id = ?", venueID).First(&container).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no asset container for venue")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading asset container")
	}
	return &container, nil
}

// Summary reads the denormalized aggregate counters without unpacking the
// entry document.
func (r *Repository) Summary(ctx context.Context, venueID string) (models.ContainerAggregate, error) {
	var row struct {
		VenueID         string
		TotalCodes      int
		ActiveCodes     int
		TotalScans      int64
		LastGeneratedAt *time.Time
	}
	err := r.db.WithContext(ctx).
		Model(&models.VenueAssetContainer{}).
		Select("venue_id", "total_codes", "active_codes", "total_scans", "last_generated_at").
		Where("venue_id = ?", venueID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ContainerAggregate{}, pkgerrors.New(pkgerrors.CodeNotFound, "no asset container for venue")
	}
	if err != nil {
		return models.ContainerAggregate{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading aggregate summary")
	}
	return models.ContainerAggregate{
		VenueID:         row.VenueID,
		TotalCodes:      row.TotalCodes,
		ActiveCodes:     row.ActiveCodes,
		TotalScans:      row.TotalScans,
		LastGeneratedAt: row.LastGeneratedAt,
	}, nil
}

// AddCodeEntry appends a new entry to the venue's container, creating the
// container lazily on first use. Screen entries are deduplicated on
// (kind, display name, seat class); singles never are.
func (r *Repository) AddCodeEntry(ctx context.Context, venueID string, entry models.CodeEntry) (*models.VenueAssetContainer, *models.CodeEntry, error) {
	if !entry.Kind.IsValid() {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid asset kind")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	stampEntry(&entry, time.Now().UTC())

	container, err := r.mutate(ctx, venueID, true, func(c *models.VenueAssetContainer) error {
		if entry.Kind == enums.AssetKindScreen {
			if existing := c.ScreenEntryByKey(entry.DisplayName, entry.SeatClass); existing != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "screen entry already exists for name and seat class").
					WithDetails(map[string]any{"display_name": entry.DisplayName, "seat_class": entry.SeatClass})
			}
		}
		c.Entries = append(c.Entries, entry)
		now := time.Now().UTC()
		c.LastGeneratedAt = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return container, container.Entry(entry.ID), nil
}

// AttachScreenSeats appends seats to the screen entry matching the template's
// dedup key, creating the entry when absent. The append is all-or-nothing:
// any seat label already present (or repeated within the batch) rejects the
// whole batch with Conflict and leaves the entry unchanged.
func (r *Repository) AttachScreenSeats(ctx context.Context, venueID string, template models.CodeEntry, seats []models.SeatEntry) (*models.VenueAssetContainer, *models.CodeEntry, error) {
	if template.ID == uuid.Nil {
		template.ID = uuid.New()
	}
	template.Kind = enums.AssetKindScreen
	now := time.Now().UTC()
	stampEntry(&template, now)
	for i := range seats {
		stampSeat(&seats[i], now)
	}

	var entryID uuid.UUID
	container, err := r.mutate(ctx, venueID, true, func(c *models.VenueAssetContainer) error {
		target := c.ScreenEntryByKey(template.DisplayName, template.SeatClass)
		if target == nil {
			fresh := template
			fresh.Seats = nil
			c.Entries = append(c.Entries, fresh)
			target = &c.Entries[len(c.Entries)-1]
		}
		entryID = target.ID

		if err := checkSeatLabels(target, seats); err != nil {
			return err
		}
		target.Seats = append(target.Seats, seats...)
		stamp := time.Now().UTC()
		c.LastGeneratedAt = &stamp
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return container, container.Entry(entryID), nil
}

// AppendSeats adds seats to an existing screen entry, all-or-nothing.
func (r *Repository) AppendSeats(ctx context.Context, venueID string, entryID uuid.UUID, seats []models.SeatEntry) (*models.VenueAssetContainer, error) {
	now := time.Now().UTC()
	for i := range seats {
		stampSeat(&seats[i], now)
	}
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		entry := c.Entry(entryID)
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		if entry.Kind != enums.AssetKindScreen {
			return pkgerrors.New(pkgerrors.CodeValidation, "seats can only be appended to screen entries")
		}
		if err := checkSeatLabels(entry, seats); err != nil {
			return err
		}
		entry.Seats = append(entry.Seats, seats...)
		stamp := time.Now().UTC()
		c.LastGeneratedAt = &stamp
		return nil
	})
}

// EntryPatch is a partial update of entry-level fields. Nil members are
// left untouched.
type EntryPatch struct {
	DisplayName *string
	SeatClass   *string
	AssetRef    *string
	ScanTarget  *string
	LogoRef     *string
	LogoKind    *enums.LogoKind
	GeneratedBy *string
}

// UpdateEntry applies a partial update to an entry.
func (r *Repository) UpdateEntry(ctx context.Context, venueID string, entryID uuid.UUID, patch EntryPatch) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		return applyEntryPatch(c, entryID, patch)
	})
}

func applyEntryPatch(c *models.VenueAssetContainer, entryID uuid.UUID, patch EntryPatch) error {
	entry := c.Entry(entryID)
	if entry == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
	}

	name := entry.DisplayName
	class := entry.SeatClass
	if patch.DisplayName != nil {
		name = *patch.DisplayName
	}
	if patch.SeatClass != nil {
		class = *patch.SeatClass
	}
	if entry.Kind == enums.AssetKindScreen && (name != entry.DisplayName || class != entry.SeatClass) {
		if existing := c.ScreenEntryByKey(name, class); existing != nil && existing.ID != entry.ID {
			return pkgerrors.New(pkgerrors.CodeConflict, "screen entry already exists for name and seat class").
				WithDetails(map[string]any{"display_name": name, "seat_class": class})
		}
	}

	entry.DisplayName = name
	entry.SeatClass = class
	if patch.AssetRef != nil {
		entry.AssetRef = *patch.AssetRef
	}
	if patch.ScanTarget != nil {
		entry.ScanTarget = *patch.ScanTarget
	}
	if patch.LogoRef != nil {
		entry.LogoRef = *patch.LogoRef
	}
	if patch.LogoKind != nil {
		entry.LogoKind = *patch.LogoKind
	}
	if patch.GeneratedBy != nil {
		entry.GeneratedBy = *patch.GeneratedBy
	}
	entry.GeneratedAt = time.Now().UTC()
	return nil
}

// SeatPatch is a partial update of seat-level fields.
type SeatPatch struct {
	SeatLabel   *string
	AssetRef    *string
	ScanTarget  *string
	LogoRef     *string
	LogoKind    *enums.LogoKind
	GeneratedBy *string
}

// UpdateSeat applies a partial update to a seat inside a screen entry.
func (r *Repository) UpdateSeat(ctx context.Context, venueID string, entryID, seatID uuid.UUID, patch SeatPatch) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		entry := c.Entry(entryID)
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		return applySeatPatch(entry, seatID, patch)
	})
}

func applySeatPatch(entry *models.CodeEntry, seatID uuid.UUID, patch SeatPatch) error {
	seat := entry.Seat(seatID)
	if seat == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "seat entry not found")
	}

	if patch.SeatLabel != nil && *patch.SeatLabel != seat.SeatLabel {
		if entry.HasSeatLabel(*patch.SeatLabel) {
			return pkgerrors.New(pkgerrors.CodeConflict, "seat label already exists in entry").
				WithDetails(map[string]any{"seat_label": *patch.SeatLabel})
		}
		seat.SeatLabel = *patch.SeatLabel
	}
	if patch.AssetRef != nil {
		seat.AssetRef = *patch.AssetRef
	}
	if patch.ScanTarget != nil {
		seat.ScanTarget = *patch.ScanTarget
	}
	if patch.LogoRef != nil {
		seat.LogoRef = *patch.LogoRef
	}
	if patch.LogoKind != nil {
		seat.LogoKind = *patch.LogoKind
	}
	if patch.GeneratedBy != nil {
		seat.GeneratedBy = *patch.GeneratedBy
	}
	seat.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateEntryAndSeats applies an entry patch plus per-seat patches in one
// container write, so re-rendered asset references swap atomically with the
// metadata that triggered the re-render.
func (r *Repository) UpdateEntryAndSeats(ctx context.Context, venueID string, entryID uuid.UUID, patch EntryPatch, seatPatches map[uuid.UUID]SeatPatch) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		if err := applyEntryPatch(c, entryID, patch); err != nil {
			return err
		}
		entry := c.Entry(entryID)
		for seatID, seatPatch := range seatPatches {
			if err := applySeatPatch(entry, seatID, seatPatch); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetEntryActive toggles an entry between active and inactive. The asset is
// retained either way.
func (r *Repository) SetEntryActive(ctx context.Context, venueID string, entryID uuid.UUID, active bool) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		entry := c.Entry(entryID)
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		entry.IsActive = active
		return nil
	})
}

// SetSeatActive toggles a seat between active and inactive.
func (r *Repository) SetSeatActive(ctx context.Context, venueID string, entryID, seatID uuid.UUID, active bool) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		entry := c.Entry(entryID)
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		seat := entry.Seat(seatID)
		if seat == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "seat entry not found")
		}
		seat.IsActive = active
		seat.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// DeleteEntry removes an entry and everything nested under it. The caller
// must already have removed the entry's remote assets.
func (r *Repository) DeleteEntry(ctx context.Context, venueID string, entryID uuid.UUID) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		if !c.RemoveEntry(entryID) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		return nil
	})
}

// DeleteSeat removes a single seat from a screen entry. The caller must
// already have removed the seat's remote asset.
func (r *Repository) DeleteSeat(ctx context.Context, venueID string, entryID, seatID uuid.UUID) (*models.VenueAssetContainer, error) {
	return r.mutate(ctx, venueID, false, func(c *models.VenueAssetContainer) error {
		entry := c.Entry(entryID)
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		for i := range entry.Seats {
			if entry.Seats[i].ID == seatID {
				entry.Seats = append(entry.Seats[:i], entry.Seats[i+1:]...)
				return nil
			}
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, "seat entry not found")
	})
}

// RecordScan increments the leaf's scan counter and the container's
// aggregate total. The aggregate bump is a SQL expression increment so the
// hot counter never depends on the value read at the start of the cycle.
func (r *Repository) RecordScan(ctx context.Context, venueID string, entryID uuid.UUID, seatID *uuid.UUID) (*models.VenueAssetContainer, error) {
	container, err := r.mutateWith(ctx, venueID, false, map[string]any{
		"total_scans": gorm.Expr("total_scans + 1"),
	}, func(c *models.VenueAssetContainer) error {
		entry := c.Entry(entryID)
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
		}
		if seatID != nil {
			seat := entry.Seat(*seatID)
			if seat == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "seat entry not found")
			}
			seat.ScanCount++
			seat.UpdatedAt = time.Now().UTC()
			return nil
		}
		if entry.Kind != enums.AssetKindSingle {
			return pkgerrors.New(pkgerrors.CodeValidation, "seat id is required for screen entries")
		}
		entry.ScanCount++
		return nil
	})
	if err != nil {
		return nil, err
	}
	container.TotalScans++
	return container, nil
}

// DeleteContainer hard-deletes the whole container row. The orchestrator
// removes every owned remote asset before calling this.
func (r *Repository) DeleteContainer(ctx context.Context, venueID string) error {
	res := r.db.WithContext(ctx).Where("venue_id = ?", venueID).Delete(&models.VenueAssetContainer{})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deleting asset container")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no asset container for venue")
	}
	return nil
}

func (r *Repository) mutate(ctx context.Context, venueID string, createIfMissing bool, fn func(*models.VenueAssetContainer) error) (*models.VenueAssetContainer, error) {
	return r.mutateWith(ctx, venueID, createIfMissing, nil, fn)
}

// mutateWith runs one optimistic read-modify-write cycle: load the container,
// apply fn, recount the aggregates, then persist guarded by the version
// column. A concurrent writer voids the swap and the cycle re-runs against a
// fresh read, up to casMaxAttempts.
func (r *Repository) mutateWith(ctx context.Context, venueID string, createIfMissing bool, extraUpdates map[string]any, fn func(*models.VenueAssetContainer) error) (*models.VenueAssetContainer, error) {
	var lastErr error
	for attempt := 0; attempt < casMaxAttempts; attempt++ {
		container, err := r.load(ctx, venueID, createIfMissing)
		if err != nil {
			return nil, err
		}

		if err := fn(container); err != nil {
			return nil, err
		}
		container.Recount()

		updates := map[string]any{
			"entries":           container.Entries,
			"is_active":         container.IsActive,
			"total_codes":       container.TotalCodes,
			"active_codes":      container.ActiveCodes,
			"last_generated_at": container.LastGeneratedAt,
			"version":           container.Version + 1,
			"updated_at":        time.Now().UTC(),
		}
		for column, value := range extraUpdates {
			updates[column] = value
		}

		res := r.db.WithContext(ctx).
			Model(&models.VenueAssetContainer{}).
			Where("id = ? AND version = ?", container.ID, container.Version).
			Updates(updates)
		if res.Error != nil {
			lastErr = res.Error
			continue
		}
		if res.RowsAffected == 0 {
			lastErr = nil
			continue
		}

		container.Version++
		return container, nil
	}

	if lastErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "persisting asset container")
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "container is being modified concurrently")
}

func (r *Repository) load(ctx context.Context, venueID string, createIfMissing bool) (*models.VenueAssetContainer, error) {
	var container models.VenueAssetContainer
	err := r.db.WithContext(ctx).Where("venue_id = ?", venueID).First(&container).Error
	if err == nil {
		return &container, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading asset container")
	}
	if !createIfMissing {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no asset container for venue")
	}

	container = models.VenueAssetContainer{
		ID:       uuid.New(),
		VenueID:  venueID,
		Entries:  models.CodeEntryList{},
		IsActive: true,
	}
	if createErr := r.db.WithContext(ctx).Create(&container).Error; createErr != nil {
		// Lost the creation race: another caller inserted the container first.
		if db.IsUniqueViolation(createErr, "") {
			return r.load(ctx, venueID, false)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, createErr, "creating asset container")
	}
	return &container, nil
}

func checkSeatLabels(entry *models.CodeEntry, seats []models.SeatEntry) error {
	seen := make(map[string]struct{}, len(seats))
	for i := range seats {
		label := seats[i].SeatLabel
		if _, dup := seen[label]; dup {
			return pkgerrors.New(pkgerrors.CodeConflict, "duplicate seat label in batch").
				WithDetails(map[string]any{"seat_label": label})
		}
		seen[label] = struct{}{}
		if entry.HasSeatLabel(label) {
			return pkgerrors.New(pkgerrors.CodeConflict, "seat label already exists in entry").
				WithDetails(map[string]any{"seat_label": label})
		}
	}
	return nil
}

func stampEntry(entry *models.CodeEntry, now time.Time) {
	if entry.GeneratedAt.IsZero() {
		entry.GeneratedAt = now
	}
	if entry.SchemaVersion == 0 {
		entry.SchemaVersion = models.EntrySchemaVersion
	}
	entry.IsActive = true
	for i := range entry.Seats {
		stampSeat(&entry.Seats[i], now)
	}
}

func stampSeat(seat *models.SeatEntry, now time.Time) {
	if seat.ID == uuid.Nil {
		seat.ID = uuid.New()
	}
	if seat.GeneratedAt.IsZero() {
		seat.GeneratedAt = now
	}
	if seat.UpdatedAt.IsZero() {
		seat.UpdatedAt = now
	}
	seat.IsActive = true
}