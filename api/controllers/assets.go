package controllers

import (
	"context"
	"fmt"
	"image/color"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/curtaincall-app/curtaincall-backend/api/responses"
	"github.com/curtaincall-app/curtaincall-backend/api/validators"
	"github.com/curtaincall-app/curtaincall-backend/internal/assets"
	"github.com/curtaincall-app/curtaincall-backend/pkg/db/models"
	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	pkgerrors "github.com/curtaincall-app/curtaincall-backend/pkg/errors"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
)

// AssetsService is the slice of the asset pipeline the controllers consume.
type AssetsService interface {
	GenerateSingle(ctx context.Context, input assets.GenerateSingleInput) (*models.CodeEntry, error)
	GenerateScreenBatch(ctx context.Context, input assets.GenerateScreenInput) (*assets.BatchResult, error)
	AppendScreenSeats(ctx context.Context, input assets.AppendSeatsInput) (*assets.BatchResult, error)
	Get(ctx context.Context, venueID string) (*models.VenueAssetContainer, error)
	Summary(ctx context.Context, venueID string) (models.ContainerAggregate, error)
	UpdateEntry(ctx context.Context, input assets.UpdateEntryInput) (*models.CodeEntry, error)
	UpdateSeat(ctx context.Context, input assets.UpdateSeatInput) (*models.CodeEntry, error)
	SetEntryActive(ctx context.Context, venueID string, entryID uuid.UUID, active bool) (*models.CodeEntry, error)
	SetSeatActive(ctx context.Context, venueID string, entryID, seatID uuid.UUID, active bool) (*models.CodeEntry, error)
	HardDeleteEntry(ctx context.Context, venueID string, entryID uuid.UUID) error
	HardDeleteSeat(ctx context.Context, venueID string, entryID, seatID uuid.UUID) error
	RecordScan(ctx context.Context, venueID string, entryID uuid.UUID, seatID *uuid.UUID) (string, error)
}

type themeRequest struct {
	Foreground string `json:"foreground" validate:"omitempty,hexcolor"`
	Background string `json:"background" validate:"omitempty,hexcolor"`
}

func (t themeRequest) toTheme() (assets.Theme, error) {
	var theme assets.Theme
	if t.Foreground != "" {
		c, err := parseHexColor(t.Foreground)
		if err != nil {
			return theme, pkgerrors.New(pkgerrors.CodeValidation, "invalid foreground color")
		}
		theme.Foreground = c
	}
	if t.Background != "" {
		c, err := parseHexColor(t.Background)
		if err != nil {
			return theme, pkgerrors.New(pkgerrors.CodeValidation, "invalid background color")
		}
		theme.Background = c
	}
	return theme, nil
}

func parseHexColor(value string) (color.Color, error) {
	value = strings.TrimPrefix(value, "#")
	var r, g, b uint8
	switch len(value) {
	case 6:
		if _, err := fmt.Sscanf(value, "%02x%02x%02x", &r, &g, &b); err != nil {
			return nil, err
		}
	case 3:
		if _, err := fmt.Sscanf(value, "%1x%1x%1x", &r, &g, &b); err != nil {
			return nil, err
		}
		r, g, b = r*17, g*17, b*17
	default:
		return nil, fmt.Errorf("unsupported hex color length %d", len(value))
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}, nil
}

func parseLogoKind(value string) (enums.LogoKind, error) {
	if value == "" {
		return enums.LogoKindNone, nil
	}
	kind, err := enums.ParseLogoKind(value)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid logo_kind")
	}
	return kind, nil
}

type createSingleRequest struct {
	VenueName   string       `json:"venue_name" validate:"required"`
	DisplayName string       `json:"display_name" validate:"required"`
	SeatClass   string       `json:"seat_class"`
	ScanTarget  string       `json:"scan_target" validate:"omitempty,url"`
	Subtitle    string       `json:"subtitle"`
	Theme       themeRequest `json:"theme"`
	LogoRef     string       `json:"logo_ref"`
	LogoKind    string       `json:"logo_kind"`
	GeneratedBy string       `json:"generated_by"`
}

// CreateSingleAsset generates one standalone scannable code for a venue.
func CreateSingleAsset(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		var payload createSingleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		theme, err := payload.Theme.toTheme()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logoKind, err := parseLogoKind(payload.LogoKind)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entry, err := svc.GenerateSingle(ctx, assets.GenerateSingleInput{
			VenueID:     venueID,
			VenueName:   payload.VenueName,
			DisplayName: payload.DisplayName,
			SeatClass:   payload.SeatClass,
			ScanTarget:  payload.ScanTarget,
			Subtitle:    payload.Subtitle,
			Theme:       theme,
			LogoRef:     payload.LogoRef,
			LogoKind:    logoKind,
			GeneratedBy: payload.GeneratedBy,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, entry)
	}
}

type createScreenRequest struct {
	VenueName   string       `json:"venue_name" validate:"required"`
	DisplayName string       `json:"display_name" validate:"required"`
	SeatClass   string       `json:"seat_class" validate:"required"`
	SeatLabels  []string     `json:"seat_labels" validate:"required,min=1,dive,required"`
	Theme       themeRequest `json:"theme"`
	LogoRef     string       `json:"logo_ref"`
	LogoKind    string       `json:"logo_kind"`
	GeneratedBy string       `json:"generated_by"`
}

// CreateScreenAssets generates a batch of per-seat codes for one screen.
func CreateScreenAssets(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		var payload createScreenRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		theme, err := payload.Theme.toTheme()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logoKind, err := parseLogoKind(payload.LogoKind)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.GenerateScreenBatch(ctx, assets.GenerateScreenInput{
			VenueID:     venueID,
			VenueName:   payload.VenueName,
			DisplayName: payload.DisplayName,
			SeatClass:   payload.SeatClass,
			SeatLabels:  payload.SeatLabels,
			Theme:       theme,
			LogoRef:     payload.LogoRef,
			LogoKind:    logoKind,
			GeneratedBy: payload.GeneratedBy,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if len(result.Failed) > 0 {
			status = http.StatusMultiStatus
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// GetAssets returns the venue's full container document.
func GetAssets(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)

		container, err := svc.Get(ctx, chi.URLParam(r, "venueId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, container)
	}
}

// GetAssetSummary returns the aggregate counters for a venue.
func GetAssetSummary(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)

		summary, err := svc.Summary(ctx, chi.URLParam(r, "venueId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

type updateEntryRequest struct {
	VenueName   string       `json:"venue_name"`
	DisplayName *string      `json:"display_name"`
	SeatClass   *string      `json:"seat_class"`
	LogoRef     *string      `json:"logo_ref"`
	LogoKind    *string      `json:"logo_kind"`
	GeneratedBy *string      `json:"generated_by"`
	Active      *bool        `json:"active"`
	Regenerate  bool         `json:"regenerate"`
	Theme       themeRequest `json:"theme"`
}

// UpdateAssetEntry patches entry metadata or toggles activation. Updates that
// change the display name, seat class or logo re-render the stored rasters;
// "regenerate": true forces a re-render without any field change.
func UpdateAssetEntry(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		entryID, err := uuid.Parse(chi.URLParam(r, "entryId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id"))
			return
		}

		var payload updateEntryRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var logoKind *enums.LogoKind
		if payload.LogoKind != nil {
			kind, err := parseLogoKind(*payload.LogoKind)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			logoKind = &kind
		}
		theme, err := payload.Theme.toTheme()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entry, err := applyEntryPatch(ctx, svc, venueID, entryID, payload, logoKind, theme)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, entry)
	}
}

func applyEntryPatch(ctx context.Context, svc AssetsService, venueID string, entryID uuid.UUID, payload updateEntryRequest, logoKind *enums.LogoKind, theme assets.Theme) (*models.CodeEntry, error) {
	hasPatch := payload.DisplayName != nil || payload.SeatClass != nil ||
		payload.LogoRef != nil || logoKind != nil || payload.GeneratedBy != nil
	if hasPatch || payload.Regenerate {
		entry, err := svc.UpdateEntry(ctx, assets.UpdateEntryInput{
			VenueID:   venueID,
			VenueName: payload.VenueName,
			EntryID:   entryID,
			Patch: assets.EntryPatch{
				DisplayName: payload.DisplayName,
				SeatClass:   payload.SeatClass,
				LogoRef:     payload.LogoRef,
				LogoKind:    logoKind,
				GeneratedBy: payload.GeneratedBy,
			},
			Theme:  theme,
			Render: payload.Regenerate,
		})
		if err != nil {
			return nil, err
		}
		if payload.Active == nil {
			return entry, nil
		}
	}
	if payload.Active != nil {
		return svc.SetEntryActive(ctx, venueID, entryID, *payload.Active)
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update")
}

type appendSeatsRequest struct {
	VenueName   string       `json:"venue_name" validate:"required"`
	SeatLabels  []string     `json:"seat_labels" validate:"required,min=1,dive,required"`
	Theme       themeRequest `json:"theme"`
	LogoRef     string       `json:"logo_ref"`
	LogoKind    string       `json:"logo_kind"`
	GeneratedBy string       `json:"generated_by"`
}

// AppendScreenSeats adds seats to an existing screen entry.
func AppendScreenSeats(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		entryID, err := uuid.Parse(chi.URLParam(r, "entryId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id"))
			return
		}

		var payload appendSeatsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		theme, err := payload.Theme.toTheme()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logoKind, err := parseLogoKind(payload.LogoKind)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.AppendScreenSeats(ctx, assets.AppendSeatsInput{
			VenueID:     venueID,
			VenueName:   payload.VenueName,
			EntryID:     entryID,
			SeatLabels:  payload.SeatLabels,
			Theme:       theme,
			LogoRef:     payload.LogoRef,
			LogoKind:    logoKind,
			GeneratedBy: payload.GeneratedBy,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if len(result.Failed) > 0 {
			status = http.StatusMultiStatus
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

type updateSeatRequest struct {
	VenueName   string       `json:"venue_name"`
	SeatLabel   *string      `json:"seat_label"`
	LogoRef     *string      `json:"logo_ref"`
	LogoKind    *string      `json:"logo_kind"`
	GeneratedBy *string      `json:"generated_by"`
	Active      *bool        `json:"active"`
	Regenerate  bool         `json:"regenerate"`
	Theme       themeRequest `json:"theme"`
}

// UpdateScreenSeat patches seat metadata or toggles activation. Label and
// logo changes re-render the seat's raster; "regenerate": true forces a
// re-render without any field change.
func UpdateScreenSeat(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		entryID, seatID, err := entrySeatParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var payload updateSeatRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var logoKind *enums.LogoKind
		if payload.LogoKind != nil {
			kind, err := parseLogoKind(*payload.LogoKind)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			logoKind = &kind
		}
		theme, err := payload.Theme.toTheme()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		hasPatch := payload.SeatLabel != nil || payload.LogoRef != nil || logoKind != nil || payload.GeneratedBy != nil
		if hasPatch || payload.Regenerate {
			entry, err := svc.UpdateSeat(ctx, assets.UpdateSeatInput{
				VenueID:   venueID,
				VenueName: payload.VenueName,
				EntryID:   entryID,
				SeatID:    seatID,
				Patch: assets.SeatPatch{
					SeatLabel:   payload.SeatLabel,
					LogoRef:     payload.LogoRef,
					LogoKind:    logoKind,
					GeneratedBy: payload.GeneratedBy,
				},
				Theme:  theme,
				Render: payload.Regenerate,
			})
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if payload.Active == nil {
				responses.WriteSuccess(w, entry)
				return
			}
		}
		if payload.Active != nil {
			entry, err := svc.SetSeatActive(ctx, venueID, entryID, seatID, *payload.Active)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, entry)
			return
		}

		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update"))
	}
}

// DeleteAssetEntry removes an entry. With ?deactivate=true the entry is
// soft-disabled and its assets retained.
func DeleteAssetEntry(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		entryID, err := uuid.Parse(chi.URLParam(r, "entryId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id"))
			return
		}

		if r.URL.Query().Get("deactivate") == "true" {
			entry, err := svc.SetEntryActive(ctx, venueID, entryID, false)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, entry)
			return
		}

		if err := svc.HardDeleteEntry(ctx, venueID, entryID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// DeleteScreenSeat removes one seat. With ?deactivate=true the seat is
// soft-disabled instead.
func DeleteScreenSeat(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		entryID, seatID, err := entrySeatParams(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if r.URL.Query().Get("deactivate") == "true" {
			entry, err := svc.SetSeatActive(ctx, venueID, entryID, seatID, false)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			responses.WriteSuccess(w, entry)
			return
		}

		if err := svc.HardDeleteSeat(ctx, venueID, entryID, seatID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// RecordScan registers a scan against a leaf and returns the redirect
// target. This is the public endpoint venue codes resolve through.
func RecordScan(svc AssetsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := venueContext(r, logg)
		venueID := chi.URLParam(r, "venueId")

		entryID, err := uuid.Parse(chi.URLParam(r, "entryId"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id"))
			return
		}

		var seatID *uuid.UUID
		if raw := chi.URLParam(r, "seatId"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seat id"))
				return
			}
			seatID = &parsed
		}

		target, err := svc.RecordScan(ctx, venueID, entryID, seatID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"target": target})
	}
}

func venueContext(r *http.Request, logg *logger.Logger) context.Context {
	ctx := r.Context()
	if logg != nil {
		if venueID := chi.URLParam(r, "venueId"); venueID != "" {
			ctx = logg.WithVenueID(ctx, venueID)
		}
		if entryID := chi.URLParam(r, "entryId"); entryID != "" {
			ctx = logg.WithEntryID(ctx, entryID)
		}
	}
	return ctx
}

func entrySeatParams(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	entryID, err := uuid.Parse(chi.URLParam(r, "entryId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry id")
	}
	seatID, err := uuid.Parse(chi.URLParam(r, "seatId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seat id")
	}
	return entryID, seatID, nil
}
