package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/curtaincall-app/curtaincall-backend/api/controllers"
	"github.com/curtaincall-app/curtaincall-backend/internal/assets"
	"github.com/curtaincall-app/curtaincall-backend/pkg/config"
	"github.com/curtaincall-app/curtaincall-backend/pkg/db/models"
	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	pkgerrors "github.com/curtaincall-app/curtaincall-backend/pkg/errors"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type stubAssetsService struct {
	lastCall   string
	scanSeat   *uuid.UUID
	entryPatch assets.EntryPatch
}

func (s *stubAssetsService) GenerateSingle(_ context.Context, input assets.GenerateSingleInput) (*models.CodeEntry, error) {
	s.lastCall = "single:" + input.DisplayName
	return &models.CodeEntry{
		ID:          uuid.New(),
		Kind:        enums.AssetKindSingle,
		DisplayName: input.DisplayName,
	}, nil
}

func (s *stubAssetsService) GenerateScreenBatch(_ context.Context, input assets.GenerateScreenInput) (*assets.BatchResult, error) {
	s.lastCall = "screen:" + input.DisplayName
	return &assets.BatchResult{
		Entry:      &models.CodeEntry{ID: uuid.New(), Kind: enums.AssetKindScreen},
		Successful: input.SeatLabels,
		Failed:     []assets.SeatFailure{},
	}, nil
}

func (s *stubAssetsService) AppendScreenSeats(_ context.Context, input assets.AppendSeatsInput) (*assets.BatchResult, error) {
	s.lastCall = "append:" + input.EntryID.String()
	return &assets.BatchResult{Successful: input.SeatLabels, Failed: []assets.SeatFailure{}}, nil
}

func (s *stubAssetsService) Get(_ context.Context, venueID string) (*models.VenueAssetContainer, error) {
	s.lastCall = "get:" + venueID
	return &models.VenueAssetContainer{VenueID: venueID, Entries: models.CodeEntryList{}}, nil
}

func (s *stubAssetsService) Summary(_ context.Context, venueID string) (models.ContainerAggregate, error) {
	s.lastCall = "summary:" + venueID
	if venueID == "missing" {
		return models.ContainerAggregate{}, pkgerrors.New(pkgerrors.CodeNotFound, "no asset container for venue")
	}
	return models.ContainerAggregate{VenueID: venueID, TotalCodes: 3}, nil
}

func (s *stubAssetsService) UpdateEntry(_ context.Context, input assets.UpdateEntryInput) (*models.CodeEntry, error) {
	s.lastCall = fmt.Sprintf("update-entry:%s:render=%t", input.EntryID, input.Render)
	s.entryPatch = input.Patch
	return &models.CodeEntry{ID: input.EntryID}, nil
}

func (s *stubAssetsService) UpdateSeat(_ context.Context, input assets.UpdateSeatInput) (*models.CodeEntry, error) {
	s.lastCall = fmt.Sprintf("update-seat:%s:render=%t", input.SeatID, input.Render)
	return &models.CodeEntry{ID: input.EntryID}, nil
}

func (s *stubAssetsService) SetEntryActive(_ context.Context, _ string, entryID uuid.UUID, active bool) (*models.CodeEntry, error) {
	s.lastCall = fmt.Sprintf("entry-active:%s:%t", entryID, active)
	return &models.CodeEntry{ID: entryID, IsActive: active}, nil
}

func (s *stubAssetsService) SetSeatActive(_ context.Context, _ string, entryID, _ uuid.UUID, active bool) (*models.CodeEntry, error) {
	s.lastCall = fmt.Sprintf("seat-active:%s:%t", entryID, active)
	return &models.CodeEntry{ID: entryID}, nil
}

func (s *stubAssetsService) HardDeleteEntry(_ context.Context, _ string, entryID uuid.UUID) error {
	s.lastCall = "delete-entry:" + entryID.String()
	return nil
}

func (s *stubAssetsService) HardDeleteSeat(_ context.Context, _ string, entryID, _ uuid.UUID) error {
	s.lastCall = "delete-seat:" + entryID.String()
	return nil
}

func (s *stubAssetsService) RecordScan(_ context.Context, venueID string, entryID uuid.UUID, seatID *uuid.UUID) (string, error) {
	s.lastCall = "scan:" + venueID
	s.scanSeat = seatID
	return "https://app.example.com/menu/" + venueID, nil
}

func testRouter(t *testing.T, svc controllers.AssetsService) http.Handler {
	t.Helper()
	cfg := &config.Config{App: config.AppConfig{Env: config.AppEnvDev, Port: "8080"}}
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: zerolog.ErrorLevel, Output: io.Discard})
	registry := prometheus.NewRegistry()
	return NewRouter(cfg, logg, svc, map[string]controllers.Pinger{"db": stubPinger{}}, registry)
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	handler := testRouter(t, &stubAssetsService{})

	w := doRequest(t, handler, http.MethodGet, "/health/live", "")
	if w.Code != http.StatusOK {
		t.Fatalf("live returned %d", w.Code)
	}
	if got := w.Header().Get("X-CurtainCall-Env"); got != config.AppEnvDev {
		t.Fatalf("unexpected env header %q", got)
	}

	w = doRequest(t, handler, http.MethodGet, "/health/ready", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ready returned %d", w.Code)
	}
}

func TestHealthReadyFailsWhenDependencyDown(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: config.AppEnvDev, Port: "8080"}}
	logg := logger.New(logger.Options{ServiceName: "router-test", Level: zerolog.Disabled, Output: io.Discard})
	handler := NewRouter(cfg, logg, &stubAssetsService{}, map[string]controllers.Pinger{
		"db":    stubPinger{},
		"redis": stubPinger{err: fmt.Errorf("connection refused")},
	}, nil)

	w := doRequest(t, handler, http.MethodGet, "/health/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 but got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := testRouter(t, &stubAssetsService{})

	w := doRequest(t, handler, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", w.Code)
	}
}

func TestCreateSingleAssetRoute(t *testing.T) {
	svc := &stubAssetsService{}
	handler := testRouter(t, svc)

	body := `{"venue_name":"Grand Palace","display_name":"Lobby Kiosk"}`
	w := doRequest(t, handler, http.MethodPost, "/api/v1/venues/venue-1/assets/single", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCall != "single:Lobby Kiosk" {
		t.Fatalf("unexpected service call %q", svc.lastCall)
	}
}

func TestCreateSingleAssetValidation(t *testing.T) {
	handler := testRouter(t, &stubAssetsService{})

	w := doRequest(t, handler, http.MethodPost, "/api/v1/venues/venue-1/assets/single", `{"venue_name":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}

	var envelope struct {
		Error struct {
			Code    string            `json:"code"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if envelope.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected error code %q", envelope.Error.Code)
	}
	if _, ok := envelope.Error.Details["display_name"]; !ok {
		t.Fatalf("expected display_name in details, got %v", envelope.Error.Details)
	}
}

func TestCreateScreenAssetsRoute(t *testing.T) {
	svc := &stubAssetsService{}
	handler := testRouter(t, svc)

	body := `{"venue_name":"Grand Palace","display_name":"Balcony","seat_class":"Premium","seat_labels":["A1","A2"]}`
	w := doRequest(t, handler, http.MethodPost, "/api/v1/venues/venue-1/assets/screen", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCall != "screen:Balcony" {
		t.Fatalf("unexpected service call %q", svc.lastCall)
	}
}

func TestSummaryRoute(t *testing.T) {
	svc := &stubAssetsService{}
	handler := testRouter(t, svc)

	w := doRequest(t, handler, http.MethodGet, "/api/v1/venues/venue-1/assets/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d", w.Code)
	}

	w = doRequest(t, handler, http.MethodGet, "/api/v1/venues/missing/assets/summary", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 but got %d", w.Code)
	}
}

func TestUpdateEntryRouting(t *testing.T) {
	svc := &stubAssetsService{}
	handler := testRouter(t, svc)
	entryID := uuid.NewString()

	body := `{"venue_name":"Grand Palace","display_name":"Renamed Kiosk"}`
	w := doRequest(t, handler, http.MethodPatch, "/api/v1/venues/venue-1/assets/"+entryID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCall != "update-entry:"+entryID+":render=false" {
		t.Fatalf("unexpected service call %q", svc.lastCall)
	}
	if svc.entryPatch.DisplayName == nil || *svc.entryPatch.DisplayName != "Renamed Kiosk" {
		t.Fatalf("rename did not reach the service: %+v", svc.entryPatch)
	}

	// A rename combined with a forced re-render keeps both.
	body = `{"venue_name":"Grand Palace","display_name":"Renamed Again","regenerate":true}`
	w = doRequest(t, handler, http.MethodPatch, "/api/v1/venues/venue-1/assets/"+entryID, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCall != "update-entry:"+entryID+":render=true" {
		t.Fatalf("unexpected service call %q", svc.lastCall)
	}
	if svc.entryPatch.DisplayName == nil || *svc.entryPatch.DisplayName != "Renamed Again" {
		t.Fatalf("rename was dropped alongside regenerate: %+v", svc.entryPatch)
	}
}

func TestDeleteEntryRouting(t *testing.T) {
	svc := &stubAssetsService{}
	handler := testRouter(t, svc)
	entryID := uuid.NewString()

	w := doRequest(t, handler, http.MethodDelete, "/api/v1/venues/venue-1/assets/"+entryID+"?deactivate=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d", w.Code)
	}
	if svc.lastCall != "entry-active:"+entryID+":false" {
		t.Fatalf("deactivate query should soft-disable, got %q", svc.lastCall)
	}

	w = doRequest(t, handler, http.MethodDelete, "/api/v1/venues/venue-1/assets/"+entryID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d", w.Code)
	}
	if svc.lastCall != "delete-entry:"+entryID {
		t.Fatalf("unexpected service call %q", svc.lastCall)
	}
}

func TestScanRoutes(t *testing.T) {
	svc := &stubAssetsService{}
	handler := testRouter(t, svc)
	entryID := uuid.NewString()
	seatID := uuid.NewString()

	w := doRequest(t, handler, http.MethodPost, "/api/v1/scan/venue-1/"+entryID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d: %s", w.Code, w.Body.String())
	}
	if svc.scanSeat != nil {
		t.Fatalf("entry-level scan should carry no seat id")
	}

	w = doRequest(t, handler, http.MethodPost, "/api/v1/scan/venue-1/"+entryID+"/"+seatID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 but got %d", w.Code)
	}
	if svc.scanSeat == nil || svc.scanSeat.String() != seatID {
		t.Fatalf("seat-level scan lost the seat id")
	}

	w = doRequest(t, handler, http.MethodPost, "/api/v1/scan/venue-1/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 but got %d", w.Code)
	}
}
