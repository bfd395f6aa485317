package assets

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/curtaincall-app/curtaincall-backend/pkg/db/models"
	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	pkgerrors "github.com/curtaincall-app/curtaincall-backend/pkg/errors"
)

func setupAssetsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// A single underlying connection keeps the in-memory database alive and
	// serializes concurrent writers the way a real pool would under contention.
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, AutoMigrate(conn))
	return conn
}

func singleEntry(name string) models.CodeEntry {
	return models.CodeEntry{
		Kind:        enums.AssetKindSingle,
		DisplayName: name,
		AssetRef:    "https://cdn.example.com/" + name + ".png",
		ScanTarget:  "https://app.example.com/menu/v1?entryName=" + name,
	}
}

func screenTemplate(name, class string) models.CodeEntry {
	return models.CodeEntry{
		Kind:        enums.AssetKindScreen,
		DisplayName: name,
		SeatClass:   class,
	}
}

func seat(label string) models.SeatEntry {
	return models.SeatEntry{
		SeatLabel:  label,
		AssetRef:   "https://cdn.example.com/seat-" + label + ".png",
		ScanTarget: "https://app.example.com/menu/v1?seat=" + label,
	}
}

func TestAddCodeEntry_CreatesContainerLazily(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	container, entry, err := repo.AddCodeEntry(ctx, "venue-1", singleEntry("Lobby Kiosk"))
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, "venue-1", container.VenueID)
	assert.True(t, container.IsActive)
	assert.Equal(t, 1, container.TotalCodes)
	assert.Equal(t, 1, container.ActiveCodes)
	assert.NotNil(t, container.LastGeneratedAt)
	assert.Equal(t, models.EntrySchemaVersion, entry.SchemaVersion)
	assert.True(t, entry.IsActive)

	reloaded, err := repo.GetByVenue(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, container.ID, reloaded.ID)
	require.Len(t, reloaded.Entries, 1)
	assert.Equal(t, entry.ID, reloaded.Entries[0].ID)
}

func TestAddCodeEntry_SinglesNeverDeduplicated(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, _, err := repo.AddCodeEntry(ctx, "venue-1", singleEntry("Lobby Kiosk"))
	require.NoError(t, err)
	container, _, err := repo.AddCodeEntry(ctx, "venue-1", singleEntry("Lobby Kiosk"))
	require.NoError(t, err)

	assert.Len(t, container.Entries, 2)
	assert.Equal(t, 2, container.TotalCodes)
}

func TestAddCodeEntry_ScreenDedupKeyConflicts(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, _, err := repo.AddCodeEntry(ctx, "venue-1", screenTemplate("Balcony", "Premium"))
	require.NoError(t, err)

	_, _, err = repo.AddCodeEntry(ctx, "venue-1", screenTemplate("Balcony", "Premium"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	// A different seat class is a different screen.
	container, _, err := repo.AddCodeEntry(ctx, "venue-1", screenTemplate("Balcony", "Standard"))
	require.NoError(t, err)
	assert.Len(t, container.Entries, 2)
}

func TestAttachScreenSeats_FindsOrCreatesThenAppends(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	container, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)
	require.Len(t, container.Entries, 1)
	require.Len(t, entry.Seats, 2)

	// A second batch for the same screen key lands in the same entry.
	container, entry, err = repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A3")})
	require.NoError(t, err)
	assert.Len(t, container.Entries, 1)
	require.Len(t, entry.Seats, 3)
	assert.Equal(t, "A1", entry.Seats[0].SeatLabel)
	assert.Equal(t, "A3", entry.Seats[2].SeatLabel)
	assert.Equal(t, 3, container.TotalCodes)
	assert.Equal(t, 3, container.ActiveCodes)
}

func TestAppendSeats_DuplicateLabelRejectsWholeBatch(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1")})
	require.NoError(t, err)

	_, err = repo.AppendSeats(ctx, "venue-1", entry.ID, []models.SeatEntry{seat("A2"), seat("A1")})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	// Nothing from the failed batch was persisted.
	container, err := repo.GetByVenue(ctx, "venue-1")
	require.NoError(t, err)
	require.Len(t, container.Entries[0].Seats, 1)
	assert.Equal(t, 1, container.TotalCodes)
}

func TestAppendSeats_SeatLabelsAreCaseSensitive(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1")})
	require.NoError(t, err)

	container, err := repo.AppendSeats(ctx, "venue-1", entry.ID, []models.SeatEntry{seat("a1")})
	require.NoError(t, err)
	assert.Len(t, container.Entries[0].Seats, 2)
}

func TestAppendSeats_RejectsSingleEntries(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AddCodeEntry(ctx, "venue-1", singleEntry("Lobby Kiosk"))
	require.NoError(t, err)

	_, err = repo.AppendSeats(ctx, "venue-1", entry.ID, []models.SeatEntry{seat("A1")})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSetEntryActive_DeactivatedScreenContributesNoActiveLeaves(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)

	container, err := repo.SetEntryActive(ctx, "venue-1", entry.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, container.TotalCodes)
	assert.Equal(t, 0, container.ActiveCodes)

	// The per-seat flags survive deactivation, so reactivating the entry
	// restores the previous active count.
	container, err = repo.SetEntryActive(ctx, "venue-1", entry.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, container.ActiveCodes)
}

func TestSetSeatActive_TogglesOneLeaf(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)
	seatID := entry.Seats[0].ID

	container, err := repo.SetSeatActive(ctx, "venue-1", entry.ID, seatID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, container.TotalCodes)
	assert.Equal(t, 1, container.ActiveCodes)
	assert.False(t, container.Entries[0].Seats[0].IsActive)
}

func TestUpdateEntry_ScreenRenameChecksDedupKey(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, _, err := repo.AddCodeEntry(ctx, "venue-1", screenTemplate("Balcony", "Premium"))
	require.NoError(t, err)
	_, entry, err := repo.AddCodeEntry(ctx, "venue-1", screenTemplate("Orchestra", "Premium"))
	require.NoError(t, err)

	name := "Balcony"
	_, err = repo.UpdateEntry(ctx, "venue-1", entry.ID, EntryPatch{DisplayName: &name})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	name = "Mezzanine"
	container, err := repo.UpdateEntry(ctx, "venue-1", entry.ID, EntryPatch{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Mezzanine", container.Entry(entry.ID).DisplayName)
}

func TestUpdateSeat_LabelRenameChecksUniqueness(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)

	label := "A2"
	_, err = repo.UpdateSeat(ctx, "venue-1", entry.ID, entry.Seats[0].ID, SeatPatch{SeatLabel: &label})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	label = "B1"
	container, err := repo.UpdateSeat(ctx, "venue-1", entry.ID, entry.Seats[0].ID, SeatPatch{SeatLabel: &label})
	require.NoError(t, err)
	assert.Equal(t, "B1", container.Entry(entry.ID).Seats[0].SeatLabel)
}

func TestUpdateEntryAndSeats_SwapsReferencesInOneWrite(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)

	name := "Upper Balcony"
	refA1 := "https://cdn.example.com/new-a1.png"
	refA2 := "https://cdn.example.com/new-a2.png"
	container, err := repo.UpdateEntryAndSeats(ctx, "venue-1", entry.ID,
		EntryPatch{DisplayName: &name},
		map[uuid.UUID]SeatPatch{
			entry.Seats[0].ID: {AssetRef: &refA1},
			entry.Seats[1].ID: {AssetRef: &refA2},
		})
	require.NoError(t, err)

	updated := container.Entry(entry.ID)
	assert.Equal(t, "Upper Balcony", updated.DisplayName)
	assert.Equal(t, refA1, updated.Seats[0].AssetRef)
	assert.Equal(t, refA2, updated.Seats[1].AssetRef)

	// One CAS cycle, so a single version bump covers the whole swap.
	reloaded, err := repo.GetByVenue(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, container.Version, reloaded.Version)
	assert.Equal(t, "Upper Balcony", reloaded.Entry(entry.ID).DisplayName)
}

func TestRecordScan_BumpsLeafAndAggregate(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1")})
	require.NoError(t, err)
	seatID := entry.Seats[0].ID

	container, err := repo.RecordScan(ctx, "venue-1", entry.ID, &seatID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), container.TotalScans)
	assert.Equal(t, int64(1), container.Entry(entry.ID).Seats[0].ScanCount)

	_, single, err := repo.AddCodeEntry(ctx, "venue-1", singleEntry("Lobby Kiosk"))
	require.NoError(t, err)
	container, err = repo.RecordScan(ctx, "venue-1", single.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), container.TotalScans)
	assert.Equal(t, int64(1), container.Entry(single.ID).ScanCount)

	// Screen entries are only scannable through a seat.
	_, err = repo.RecordScan(ctx, "venue-1", entry.ID, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDeleteSeatAndEntry(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)

	container, err := repo.DeleteSeat(ctx, "venue-1", entry.ID, entry.Seats[0].ID)
	require.NoError(t, err)
	require.Len(t, container.Entries[0].Seats, 1)
	assert.Equal(t, 1, container.TotalCodes)

	container, err = repo.DeleteEntry(ctx, "venue-1", entry.ID)
	require.NoError(t, err)
	assert.Empty(t, container.Entries)
	assert.Equal(t, 0, container.TotalCodes)

	_, err = repo.DeleteEntry(ctx, "venue-1", entry.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSummary_ReadsAggregateColumns(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, err := repo.Summary(ctx, "venue-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1"), seat("A2")})
	require.NoError(t, err)
	seatID := entry.Seats[0].ID
	_, err = repo.RecordScan(ctx, "venue-1", entry.ID, &seatID)
	require.NoError(t, err)

	summary, err := repo.Summary(ctx, "venue-1")
	require.NoError(t, err)
	assert.Equal(t, "venue-1", summary.VenueID)
	assert.Equal(t, 2, summary.TotalCodes)
	assert.Equal(t, 2, summary.ActiveCodes)
	assert.Equal(t, int64(1), summary.TotalScans)
	assert.NotNil(t, summary.LastGeneratedAt)
}

func TestDeleteContainer(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, _, err := repo.AddCodeEntry(ctx, "venue-1", singleEntry("Lobby Kiosk"))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteContainer(ctx, "venue-1"))

	err = repo.DeleteContainer(ctx, "venue-1")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestConcurrentAppendsUnionWithoutLostUpdates(t *testing.T) {
	repo := NewRepository(setupAssetsTestDB(t))
	ctx := context.Background()

	_, entry, err := repo.AttachScreenSeats(ctx, "venue-1",
		screenTemplate("Balcony", "Premium"),
		[]models.SeatEntry{seat("A1")})
	require.NoError(t, err)

	labels := []string{"B1", "B2", "B3", "B4"}
	var wg sync.WaitGroup
	errs := make([]error, len(labels))
	for i, label := range labels {
		wg.Add(1)
		go func(i int, label string) {
			defer wg.Done()
			_, errs[i] = repo.AppendSeats(ctx, "venue-1", entry.ID, []models.SeatEntry{seat(label)})
		}(i, label)
	}
	wg.Wait()

	for i, appendErr := range errs {
		require.NoError(t, appendErr, "append %d", i)
	}

	container, err := repo.GetByVenue(ctx, "venue-1")
	require.NoError(t, err)
	got := make(map[string]bool)
	for _, s := range container.Entries[0].Seats {
		got[s.SeatLabel] = true
	}
	for _, label := range append([]string{"A1"}, labels...) {
		assert.True(t, got[label], "missing seat %s", label)
	}
	assert.Equal(t, 5, container.TotalCodes)
}
