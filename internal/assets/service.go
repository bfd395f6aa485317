package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curtaincall-app/curtaincall-backend/pkg/config"
	"github.com/curtaincall-app/curtaincall-backend/pkg/db/models"
	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	pkgerrors "github.com/curtaincall-app/curtaincall-backend/pkg/errors"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
	"github.com/curtaincall-app/curtaincall-backend/pkg/metrics"
	"github.com/curtaincall-app/curtaincall-backend/pkg/redis"
)

type composer interface {
	Compose(ctx context.Context, input ComposeInput) (image.Image, error)
}

type blobSink interface {
	Save(ctx context.Context, raster image.Image, hints PathHints) (string, error)
	DeleteAll(ctx context.Context, refs []string) error
}

type summaryCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
	SummaryKey(venueID string) string
	CounterKey(name string) string
}

// Service orchestrates the asset pipeline: compose the raster, persist the
// blob, then record the entry in the venue's container. Blob cleanup always
// happens after the container write succeeds and is fire-and-forget.
type Service struct {
	repo    *Repository
	compose composer
	blobs   blobSink
	cache   summaryCache
	logg    *logger.Logger
	metrics *metrics.AssetPipelineMetrics

	publicBaseURL string
	cacheTTL      time.Duration
	workers       int

	// dispatch runs background cleanup work. Tests swap it for a
	// synchronous version.
	dispatch func(func())
}

// NewService wires the pipeline together. cache may be nil, in which case
// summaries always hit the database.
func NewService(repo *Repository, compose composer, blobs blobSink, cache summaryCache, cfg config.AssetsConfig, logg *logger.Logger, m *metrics.AssetPipelineMetrics) *Service {
	workers := cfg.BatchWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		repo:          repo,
		compose:       compose,
		blobs:         blobs,
		cache:         cache,
		logg:          logg,
		metrics:       m,
		publicBaseURL: cfg.PublicBaseURL,
		cacheTTL:      cfg.SummaryCacheTTL,
		workers:       workers,
		dispatch:      func(fn func()) { go fn() },
	}
}

// GenerateSingleInput describes one standalone code to generate.
type GenerateSingleInput struct {
	VenueID     string
	VenueName   string
	DisplayName string
	SeatClass   string
	ScanTarget  string
	Theme       Theme
	Subtitle    string
	LogoRef     string
	LogoKind    enums.LogoKind
	GeneratedBy string
}

// GenerateSingle composes, stores and records one standalone code. A failed
// container write schedules removal of the just-stored blob so no orphan
// survives.
func (s *Service) GenerateSingle(ctx context.Context, input GenerateSingleInput) (*models.CodeEntry, error) {
	target := input.ScanTarget
	if target == "" {
		target = s.scanTarget(input.VenueID, input.DisplayName, enums.AssetKindSingle, "")
	}

	// Top band carries the venue name, bottom band the entry name.
	subtitle := input.Subtitle
	if subtitle == "" {
		subtitle = input.DisplayName
	}
	raster, err := s.compose.Compose(ctx, ComposeInput{
		Payload: target,
		Kind:    enums.AssetKindSingle,
		Theme:   input.Theme,
		Caption: Caption{Title: input.VenueName, Subtitle: subtitle},
		LogoRef: input.LogoRef,
	})
	if err != nil {
		s.metrics.IncComposition(string(enums.AssetKindSingle), "failure")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "composing code")
	}

	ref, err := s.blobs.Save(ctx, raster, PathHints{
		Kind:      enums.AssetKindSingle,
		VenueName: input.VenueName,
		EntryName: input.DisplayName,
		SeatClass: input.SeatClass,
	})
	if err != nil {
		s.metrics.IncComposition(string(enums.AssetKindSingle), "failure")
		return nil, err
	}

	_, entry, err := s.repo.AddCodeEntry(ctx, input.VenueID, models.CodeEntry{
		Kind:        enums.AssetKindSingle,
		DisplayName: input.DisplayName,
		SeatClass:   input.SeatClass,
		AssetRef:    ref,
		ScanTarget:  target,
		LogoRef:     input.LogoRef,
		LogoKind:    input.LogoKind,
		GeneratedBy: input.GeneratedBy,
	})
	if err != nil {
		s.metrics.IncComposition(string(enums.AssetKindSingle), "failure")
		s.cleanupRefs(ref)
		return nil, err
	}

	s.metrics.IncComposition(string(enums.AssetKindSingle), "success")
	s.invalidateSummary(ctx, input.VenueID)
	return entry, nil
}

// GenerateScreenInput describes a batch of per-seat codes for one screen.
type GenerateScreenInput struct {
	VenueID     string
	VenueName   string
	DisplayName string
	SeatClass   string
	SeatLabels  []string
	Theme       Theme
	LogoRef     string
	LogoKind    enums.LogoKind
	GeneratedBy string
}

// SeatFailure names one seat that could not be generated.
type SeatFailure struct {
	SeatLabel string `json:"seat_label"`
	Reason    string `json:"reason"`
}

// BatchResult reports the outcome of a screen batch. Successful seats were
// composed, stored and recorded; failed seats carry the reason they were
// skipped.
type BatchResult struct {
	Entry      *models.CodeEntry `json:"entry,omitempty"`
	Successful []string          `json:"successful"`
	Failed     []SeatFailure     `json:"failed"`
}

// composeSeatBatch fans the seat list out over a bounded worker pool and
// returns the successfully composed seats in submission order. Compose or
// store failures are per-seat and never abort the rest of the batch; a
// canceled context fails the unattempted seats instead.
func (s *Service) composeSeatBatch(ctx context.Context, input GenerateScreenInput) ([]models.SeatEntry, []SeatFailure) {
	type outcome struct {
		seat models.SeatEntry
		err  error
	}
	outcomes := make([]outcome, len(input.SeatLabels))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i].seat, outcomes[i].err = s.generateSeat(ctx, input, input.SeatLabels[i])
			}
		}()
	}
	for i := range input.SeatLabels {
		select {
		case jobs <- i:
		case <-ctx.Done():
			outcomes[i].err = ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	var seats []models.SeatEntry
	var failed []SeatFailure
	for i, out := range outcomes {
		if out.err != nil {
			s.metrics.IncComposition(string(enums.AssetKindScreen), "failure")
			reason := out.err.Error()
			if errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded) {
				reason = "cancelled"
			}
			failed = append(failed, SeatFailure{
				SeatLabel: input.SeatLabels[i],
				Reason:    reason,
			})
			continue
		}
		seats = append(seats, out.seat)
	}
	return seats, failed
}

// GenerateScreenBatch composes a batch of per-seat codes and appends them to
// the screen entry matching the name and seat class, creating the entry when
// it does not exist yet. All successfully composed seats land in one
// container write.
func (s *Service) GenerateScreenBatch(ctx context.Context, input GenerateScreenInput) (*BatchResult, error) {
	if len(input.SeatLabels) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one seat label is required")
	}
	if err := rejectDuplicateLabels(input.SeatLabels); err != nil {
		return nil, err
	}

	seats, failed := s.composeSeatBatch(ctx, input)
	result := &BatchResult{Successful: []string{}, Failed: failed}
	if result.Failed == nil {
		result.Failed = []SeatFailure{}
	}
	if len(seats) == 0 {
		return result, nil
	}

	_, entry, err := s.repo.AttachScreenSeats(ctx, input.VenueID, models.CodeEntry{
		DisplayName: input.DisplayName,
		SeatClass:   input.SeatClass,
		LogoRef:     input.LogoRef,
		LogoKind:    input.LogoKind,
		GeneratedBy: input.GeneratedBy,
	}, seats)
	if err != nil {
		// The whole append was rejected, so every stored blob is an orphan.
		refs := make([]string, 0, len(seats))
		for _, st := range seats {
			refs = append(refs, st.AssetRef)
		}
		s.cleanupRefs(refs...)
		return nil, err
	}

	for _, st := range seats {
		s.metrics.IncComposition(string(enums.AssetKindScreen), "success")
		result.Successful = append(result.Successful, st.SeatLabel)
	}
	result.Entry = entry
	s.invalidateSummary(ctx, input.VenueID)
	return result, nil
}

// AppendSeatsInput adds seats to an existing screen entry by id. Display
// name and seat class come from the entry itself.
type AppendSeatsInput struct {
	VenueID     string
	VenueName   string
	EntryID     uuid.UUID
	SeatLabels  []string
	Theme       Theme
	LogoRef     string
	LogoKind    enums.LogoKind
	GeneratedBy string
}

// AppendScreenSeats composes codes for the new seats and appends them to the
// existing entry. Like GenerateScreenBatch the container write is
// all-or-nothing over the composed seats.
func (s *Service) AppendScreenSeats(ctx context.Context, input AppendSeatsInput) (*BatchResult, error) {
	if len(input.SeatLabels) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one seat label is required")
	}
	if err := rejectDuplicateLabels(input.SeatLabels); err != nil {
		return nil, err
	}

	container, err := s.repo.GetByVenue(ctx, input.VenueID)
	if err != nil {
		return nil, err
	}
	entry := container.Entry(input.EntryID)
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
	}
	if entry.Kind != enums.AssetKindScreen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seats can only be appended to screen entries")
	}
	for _, label := range input.SeatLabels {
		if entry.HasSeatLabel(label) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "seat label already exists in entry").
				WithDetails(map[string]any{"seat_label": label})
		}
	}

	logoRef := input.LogoRef
	if logoRef == "" {
		logoRef = entry.LogoRef
	}
	seats, failed := s.composeSeatBatch(ctx, GenerateScreenInput{
		VenueID:     input.VenueID,
		VenueName:   input.VenueName,
		DisplayName: entry.DisplayName,
		SeatClass:   entry.SeatClass,
		SeatLabels:  input.SeatLabels,
		Theme:       input.Theme,
		LogoRef:     logoRef,
		LogoKind:    input.LogoKind,
		GeneratedBy: input.GeneratedBy,
	})
	result := &BatchResult{Successful: []string{}, Failed: failed}
	if result.Failed == nil {
		result.Failed = []SeatFailure{}
	}
	if len(seats) == 0 {
		return result, nil
	}

	container, err = s.repo.AppendSeats(ctx, input.VenueID, input.EntryID, seats)
	if err != nil {
		refs := make([]string, 0, len(seats))
		for _, st := range seats {
			refs = append(refs, st.AssetRef)
		}
		s.cleanupRefs(refs...)
		return nil, err
	}

	for _, st := range seats {
		s.metrics.IncComposition(string(enums.AssetKindScreen), "success")
		result.Successful = append(result.Successful, st.SeatLabel)
	}
	result.Entry = container.Entry(input.EntryID)
	s.invalidateSummary(ctx, input.VenueID)
	return result, nil
}

func (s *Service) generateSeat(ctx context.Context, input GenerateScreenInput, label string) (models.SeatEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.SeatEntry{}, err
	}

	target := s.scanTarget(input.VenueID, input.DisplayName, enums.AssetKindScreen, label)
	raster, err := s.compose.Compose(ctx, ComposeInput{
		Payload: target,
		Kind:    enums.AssetKindScreen,
		Theme:   input.Theme,
		Caption: Caption{Title: input.VenueName, Subtitle: input.DisplayName + " | " + label},
		LogoRef: input.LogoRef,
	})
	if err != nil {
		return models.SeatEntry{}, err
	}

	ref, err := s.blobs.Save(ctx, raster, PathHints{
		Kind:      enums.AssetKindScreen,
		VenueName: input.VenueName,
		EntryName: input.DisplayName,
		SeatClass: input.SeatClass,
		SeatLabel: label,
	})
	if err != nil {
		return models.SeatEntry{}, err
	}

	return models.SeatEntry{
		SeatLabel:   label,
		AssetRef:    ref,
		ScanTarget:  target,
		LogoRef:     input.LogoRef,
		LogoKind:    input.LogoKind,
		GeneratedBy: input.GeneratedBy,
	}, nil
}

// Get returns the venue's full container document.
func (s *Service) Get(ctx context.Context, venueID string) (*models.VenueAssetContainer, error) {
	return s.repo.GetByVenue(ctx, venueID)
}

// UpdateEntryInput patches an entry. Changing the display name, seat class or
// logo re-renders the stored rasters so caption and path stay current; Render
// forces a re-render even when nothing changed (new theme, refreshed logo
// content).
type UpdateEntryInput struct {
	VenueID   string
	VenueName string
	EntryID   uuid.UUID
	Patch     EntryPatch
	Theme     Theme
	Render    bool
}

// UpdateEntry applies the patch. When the update touches a render-significant
// field the pipeline runs write-new-then-delete-old: every affected raster is
// recomposed, the new blobs are stored, the references swap together with the
// metadata in one container write, and only then are the old blobs removed.
// For screen entries that means every seat raster, since each one carries the
// entry name in its caption.
func (s *Service) UpdateEntry(ctx context.Context, input UpdateEntryInput) (*models.CodeEntry, error) {
	container, err := s.repo.GetByVenue(ctx, input.VenueID)
	if err != nil {
		return nil, err
	}
	entry := container.Entry(input.EntryID)
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
	}

	name, class, logoRef := entry.DisplayName, entry.SeatClass, entry.LogoRef
	if input.Patch.DisplayName != nil {
		name = *input.Patch.DisplayName
	}
	if input.Patch.SeatClass != nil {
		class = *input.Patch.SeatClass
	}
	if input.Patch.LogoRef != nil {
		logoRef = *input.Patch.LogoRef
	}

	render := input.Render || name != entry.DisplayName || class != entry.SeatClass || logoRef != entry.LogoRef
	if !render {
		container, err = s.repo.UpdateEntry(ctx, input.VenueID, input.EntryID, input.Patch)
		if err != nil {
			return nil, err
		}
		s.invalidateSummary(ctx, input.VenueID)
		return container.Entry(input.EntryID), nil
	}

	if input.VenueName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue_name is required to re-render assets")
	}
	if entry.Kind == enums.AssetKindScreen && (name != entry.DisplayName || class != entry.SeatClass) {
		if existing := container.ScreenEntryByKey(name, class); existing != nil && existing.ID != entry.ID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "screen entry already exists for name and seat class").
				WithDetails(map[string]any{"display_name": name, "seat_class": class})
		}
	}

	patch := input.Patch
	var newRefs, oldRefs []string
	seatPatches := make(map[uuid.UUID]SeatPatch)

	if entry.Kind == enums.AssetKindSingle {
		raster, err := s.compose.Compose(ctx, ComposeInput{
			Payload: entry.ScanTarget,
			Kind:    entry.Kind,
			Theme:   input.Theme,
			Caption: Caption{Title: input.VenueName, Subtitle: name},
			LogoRef: logoRef,
		})
		if err != nil {
			s.metrics.IncComposition(string(entry.Kind), "failure")
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "composing code")
		}
		ref, err := s.blobs.Save(ctx, raster, PathHints{
			Kind:      entry.Kind,
			VenueName: input.VenueName,
			EntryName: name,
			SeatClass: class,
		})
		if err != nil {
			s.metrics.IncComposition(string(entry.Kind), "failure")
			return nil, err
		}
		patch.AssetRef = &ref
		newRefs = append(newRefs, ref)
		oldRefs = append(oldRefs, entry.AssetRef)
	} else {
		for i := range entry.Seats {
			st := &entry.Seats[i]
			seatLogo := st.LogoRef
			if input.Patch.LogoRef != nil {
				seatLogo = *input.Patch.LogoRef
			}
			raster, err := s.compose.Compose(ctx, ComposeInput{
				Payload: st.ScanTarget,
				Kind:    entry.Kind,
				Theme:   input.Theme,
				Caption: Caption{Title: input.VenueName, Subtitle: name + " | " + st.SeatLabel},
				LogoRef: seatLogo,
			})
			if err != nil {
				s.metrics.IncComposition(string(entry.Kind), "failure")
				s.cleanupRefs(newRefs...)
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "composing code")
			}
			ref, err := s.blobs.Save(ctx, raster, PathHints{
				Kind:      entry.Kind,
				VenueName: input.VenueName,
				EntryName: name,
				SeatClass: class,
				SeatLabel: st.SeatLabel,
			})
			if err != nil {
				s.metrics.IncComposition(string(entry.Kind), "failure")
				s.cleanupRefs(newRefs...)
				return nil, err
			}
			seatPatch := SeatPatch{AssetRef: &ref}
			if input.Patch.LogoRef != nil {
				seatPatch.LogoRef = input.Patch.LogoRef
				seatPatch.LogoKind = input.Patch.LogoKind
			}
			seatPatches[st.ID] = seatPatch
			newRefs = append(newRefs, ref)
			oldRefs = append(oldRefs, st.AssetRef)
		}
	}

	container, err = s.repo.UpdateEntryAndSeats(ctx, input.VenueID, input.EntryID, patch, seatPatches)
	if err != nil {
		s.metrics.IncComposition(string(entry.Kind), "failure")
		s.cleanupRefs(newRefs...)
		return nil, err
	}

	s.metrics.IncComposition(string(entry.Kind), "success")
	s.cleanupRefs(oldRefs...)
	s.invalidateSummary(ctx, input.VenueID)
	return container.Entry(input.EntryID), nil
}

// UpdateSeatInput patches one seat inside a screen entry. Changing the seat
// label or logo re-renders the seat's raster; Render forces it.
type UpdateSeatInput struct {
	VenueID   string
	VenueName string
	EntryID   uuid.UUID
	SeatID    uuid.UUID
	Patch     SeatPatch
	Theme     Theme
	Render    bool
}

// UpdateSeat applies the patch, re-rendering the seat's raster when the label
// or logo changes. The new blob is stored before the reference swaps and the
// old blob is only removed after the container write succeeds.
func (s *Service) UpdateSeat(ctx context.Context, input UpdateSeatInput) (*models.CodeEntry, error) {
	container, err := s.repo.GetByVenue(ctx, input.VenueID)
	if err != nil {
		return nil, err
	}
	entry := container.Entry(input.EntryID)
	if entry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
	}
	seat := entry.Seat(input.SeatID)
	if seat == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seat entry not found")
	}

	label, logoRef := seat.SeatLabel, seat.LogoRef
	if input.Patch.SeatLabel != nil {
		label = *input.Patch.SeatLabel
	}
	if input.Patch.LogoRef != nil {
		logoRef = *input.Patch.LogoRef
	}

	render := input.Render || label != seat.SeatLabel || logoRef != seat.LogoRef
	if !render {
		container, err = s.repo.UpdateSeat(ctx, input.VenueID, input.EntryID, input.SeatID, input.Patch)
		if err != nil {
			return nil, err
		}
		s.invalidateSummary(ctx, input.VenueID)
		return container.Entry(input.EntryID), nil
	}

	if input.VenueName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "venue_name is required to re-render assets")
	}
	if label != seat.SeatLabel && entry.HasSeatLabel(label) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "seat label already exists in entry").
			WithDetails(map[string]any{"seat_label": label})
	}

	raster, err := s.compose.Compose(ctx, ComposeInput{
		Payload: seat.ScanTarget,
		Kind:    enums.AssetKindScreen,
		Theme:   input.Theme,
		Caption: Caption{Title: input.VenueName, Subtitle: entry.DisplayName + " | " + label},
		LogoRef: logoRef,
	})
	if err != nil {
		s.metrics.IncComposition(string(enums.AssetKindScreen), "failure")
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "composing code")
	}
	newRef, err := s.blobs.Save(ctx, raster, PathHints{
		Kind:      enums.AssetKindScreen,
		VenueName: input.VenueName,
		EntryName: entry.DisplayName,
		SeatClass: entry.SeatClass,
		SeatLabel: label,
	})
	if err != nil {
		s.metrics.IncComposition(string(enums.AssetKindScreen), "failure")
		return nil, err
	}

	oldRef := seat.AssetRef
	patch := input.Patch
	patch.AssetRef = &newRef
	container, err = s.repo.UpdateSeat(ctx, input.VenueID, input.EntryID, input.SeatID, patch)
	if err != nil {
		s.metrics.IncComposition(string(enums.AssetKindScreen), "failure")
		s.cleanupRefs(newRef)
		return nil, err
	}

	s.metrics.IncComposition(string(enums.AssetKindScreen), "success")
	s.cleanupRefs(oldRef)
	s.invalidateSummary(ctx, input.VenueID)
	return container.Entry(input.EntryID), nil
}

// SetEntryActive toggles an entry. The stored assets are retained so the
// entry can be reactivated without regeneration.
func (s *Service) SetEntryActive(ctx context.Context, venueID string, entryID uuid.UUID, active bool) (*models.CodeEntry, error) {
	container, err := s.repo.SetEntryActive(ctx, venueID, entryID, active)
	if err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx, venueID)
	return container.Entry(entryID), nil
}

// SetSeatActive toggles a single seat.
func (s *Service) SetSeatActive(ctx context.Context, venueID string, entryID, seatID uuid.UUID, active bool) (*models.CodeEntry, error) {
	container, err := s.repo.SetSeatActive(ctx, venueID, entryID, seatID, active)
	if err != nil {
		return nil, err
	}
	s.invalidateSummary(ctx, venueID)
	return container.Entry(entryID), nil
}

// HardDeleteEntry removes the entry record first, then schedules removal of
// every blob it owned. The record goes before the blobs: a failed sweep can
// only orphan files nothing references anymore, never leave a live entry
// pointing at a deleted asset. Cleanup never blocks or fails the request.
func (s *Service) HardDeleteEntry(ctx context.Context, venueID string, entryID uuid.UUID) error {
	container, err := s.repo.GetByVenue(ctx, venueID)
	if err != nil {
		return err
	}
	entry := container.Entry(entryID)
	if entry == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
	}
	refs := entryRefs(entry)

	if _, err := s.repo.DeleteEntry(ctx, venueID, entryID); err != nil {
		return err
	}
	s.cleanupRefs(refs...)
	s.invalidateSummary(ctx, venueID)
	return nil
}

// HardDeleteSeat removes one seat record, then its blob.
func (s *Service) HardDeleteSeat(ctx context.Context, venueID string, entryID, seatID uuid.UUID) error {
	container, err := s.repo.GetByVenue(ctx, venueID)
	if err != nil {
		return err
	}
	entry := container.Entry(entryID)
	if entry == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "code entry not found")
	}
	st := entry.Seat(seatID)
	if st == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "seat entry not found")
	}
	ref := st.AssetRef

	if _, err := s.repo.DeleteSeat(ctx, venueID, entryID, seatID); err != nil {
		return err
	}
	s.cleanupRefs(ref)
	s.invalidateSummary(ctx, venueID)
	return nil
}

// HardDeleteContainer removes the whole container and every blob it owned.
func (s *Service) HardDeleteContainer(ctx context.Context, venueID string) error {
	container, err := s.repo.GetByVenue(ctx, venueID)
	if err != nil {
		return err
	}
	var refs []string
	for i := range container.Entries {
		refs = append(refs, entryRefs(&container.Entries[i])...)
	}

	if err := s.repo.DeleteContainer(ctx, venueID); err != nil {
		return err
	}
	s.cleanupRefs(refs...)
	s.invalidateSummary(ctx, venueID)
	return nil
}

// RecordScan bumps the leaf and aggregate counters and returns the scan
// target the caller should redirect to.
func (s *Service) RecordScan(ctx context.Context, venueID string, entryID uuid.UUID, seatID *uuid.UUID) (string, error) {
	container, err := s.repo.RecordScan(ctx, venueID, entryID, seatID)
	if err != nil {
		return "", err
	}
	s.metrics.IncScan()
	if s.cache != nil {
		// Best-effort live counter alongside the durable per-leaf counts.
		if _, err := s.cache.Incr(ctx, s.cache.CounterKey("scans:"+venueID)); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "scan counter increment failed")
		}
	}
	s.invalidateSummary(ctx, venueID)

	entry := container.Entry(entryID)
	if seatID != nil {
		return entry.Seat(*seatID).ScanTarget, nil
	}
	return entry.ScanTarget, nil
}

// Summary returns the aggregate counters, served from the cache when fresh.
func (s *Service) Summary(ctx context.Context, venueID string) (models.ContainerAggregate, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, s.cache.SummaryKey(venueID)); err == nil {
			var cached models.ContainerAggregate
			if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
				return cached, nil
			}
		} else if !redis.IsMissing(err) {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "summary cache read failed")
		}
	}

	summary, err := s.repo.Summary(ctx, venueID)
	if err != nil {
		return models.ContainerAggregate{}, err
	}

	if s.cache != nil {
		if payload, jsonErr := json.Marshal(summary); jsonErr == nil {
			if err := s.cache.Set(ctx, s.cache.SummaryKey(venueID), payload, s.cacheTTL); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "summary cache write failed")
			}
		}
	}
	return summary, nil
}

func (s *Service) invalidateSummary(ctx context.Context, venueID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cache.SummaryKey(venueID)); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "summary cache invalidation failed")
	}
}

// cleanupRefs schedules best-effort blob removal. Failures are logged and
// counted inside the blob store; nothing propagates to the caller.
func (s *Service) cleanupRefs(refs ...string) {
	live := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref != "" {
			live = append(live, ref)
		}
	}
	if len(live) == 0 {
		return
	}
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.blobs.DeleteAll(ctx, live); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "asset cleanup incomplete")
		}
	})
}

// scanTarget builds the public URL a scanned code resolves to:
// {base}/menu/{venueId}?entryName={name}&type={kind}[&seat={label}]
func (s *Service) scanTarget(venueID, entryName string, kind enums.AssetKind, seatLabel string) string {
	values := url.Values{}
	values.Set("entryName", entryName)
	values.Set("type", string(kind))
	if seatLabel != "" {
		values.Set("seat", seatLabel)
	}
	return fmt.Sprintf("%s/menu/%s?%s", s.publicBaseURL, url.PathEscape(venueID), values.Encode())
}

func entryRefs(entry *models.CodeEntry) []string {
	refs := make([]string, 0, len(entry.Seats)+1)
	if entry.AssetRef != "" {
		refs = append(refs, entry.AssetRef)
	}
	for i := range entry.Seats {
		if entry.Seats[i].AssetRef != "" {
			refs = append(refs, entry.Seats[i].AssetRef)
		}
	}
	return refs
}

func rejectDuplicateLabels(labels []string) error {
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if label == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "seat labels cannot be empty")
		}
		if _, dup := seen[label]; dup {
			return pkgerrors.New(pkgerrors.CodeConflict, "duplicate seat label in batch").
				WithDetails(map[string]any{"seat_label": label})
		}
		seen[label] = struct{}{}
	}
	return nil
}
