package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	pkgerrors "github.com/curtaincall-app/curtaincall-backend/pkg/errors"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
	"github.com/curtaincall-app/curtaincall-backend/pkg/metrics"
	"github.com/curtaincall-app/curtaincall-backend/pkg/storage/gcs"
)

// localRefPrefix marks references that resolved to the local fallback root.
// Callers treat references as opaque; only the blob store dispatches on it.
const localRefPrefix = "local:"

var pathSegmentSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeSegment(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	return pathSegmentSanitizer.ReplaceAllString(value, "_")
}

// PathHints carry the naming inputs for a stored asset.
type PathHints struct {
	Kind      enums.AssetKind
	VenueName string
	EntryName string
	SeatClass string
	SeatLabel string
}

// Object builds the deterministic storage path for the hints at the given time:
// {kind}/{venue}/{entry}[/{seat}]/{entry}_{class}[_{seat}]_{unixMillis}.png
func (h PathHints) Object(now time.Time) string {
	venue := sanitizeSegment(h.VenueName)
	entry := sanitizeSegment(h.EntryName)
	class := sanitizeSegment(h.SeatClass)

	dir := fmt.Sprintf("%s/%s/%s", h.Kind, venue, entry)
	file := entry + "_" + class
	if h.SeatLabel != "" {
		seat := sanitizeSegment(h.SeatLabel)
		dir += "/" + seat
		file += "_" + seat
	}
	return fmt.Sprintf("%s/%s_%d.png", dir, file, now.UnixMilli())
}

type remoteStore interface {
	Upload(ctx context.Context, object, contentType string, data []byte) (string, error)
	DeleteObject(ctx context.Context, object string) error
	ObjectFromURL(ref string) (string, bool)
}

// BlobStore persists rasters remotely, falling back to a local asset root
// under the same logical layout when the remote store is unavailable.
type BlobStore struct {
	remote    remoteStore
	localRoot string
	logg      *logger.Logger
	metrics   *metrics.AssetPipelineMetrics
	now       func() time.Time
}

// NewBlobStore builds a blob store. remote may be nil, in which case every
// save lands under localRoot.
func NewBlobStore(remote remoteStore, localRoot string, logg *logger.Logger, m *metrics.AssetPipelineMetrics) *BlobStore {
	if localRoot == "" {
		localRoot = "./assets"
	}
	return &BlobStore{
		remote:    remote,
		localRoot: localRoot,
		logg:      logg,
		metrics:   m,
		now:       time.Now,
	}
}

// Save encodes the raster as PNG and stores it under the deterministic path.
// Remote storage is attempted first; any remote failure degrades to the local
// fallback root and is never surfaced to the caller.
func (s *BlobStore) Save(ctx context.Context, raster image.Image, hints PathHints) (string, error) {
	if raster == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "raster is required")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding raster")
	}

	object := hints.Object(s.now())

	if s.remote != nil {
		ref, err := s.remote.Upload(ctx, object, "image/png", buf.Bytes())
		if err == nil {
			s.metrics.IncUpload("remote")
			return ref, nil
		}
		if s.logg != nil {
			logCtx := s.logg.WithField(ctx, "object", object)
			s.logg.Warn(logCtx, "remote asset upload failed, falling back to local storage")
		}
	}

	localPath := filepath.Join(s.localRoot, filepath.FromSlash(object))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating local asset directory")
	}
	if err := os.WriteFile(localPath, buf.Bytes(), 0o644); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "writing local asset")
	}

	s.metrics.IncUpload("local")
	return localRefPrefix + object, nil
}

// Delete removes the asset behind ref. Best-effort: a missing object counts
// as success, any other failure is logged and reported as false. Deletion is
// always secondary to the write that triggered it.
func (s *BlobStore) Delete(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}

	if object, ok := strings.CutPrefix(ref, localRefPrefix); ok {
		localPath := filepath.Join(s.localRoot, filepath.FromSlash(object))
		err := os.Remove(localPath)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return true
		}
		s.reportCleanupFailure(ctx, ref, err)
		return false
	}

	if s.remote == nil {
		return false
	}
	object, ok := s.remote.ObjectFromURL(ref)
	if !ok {
		s.reportCleanupFailure(ctx, ref, errors.New("reference does not belong to the configured bucket"))
		return false
	}

	err := s.remote.DeleteObject(ctx, object)
	if err == nil || errors.Is(err, gcs.ErrObjectMissing) {
		return true
	}
	s.reportCleanupFailure(ctx, ref, err)
	return false
}

// DeleteAll removes every ref, aggregating failures so one bad reference
// never stops the rest of the sweep.
func (s *BlobStore) DeleteAll(ctx context.Context, refs []string) error {
	var errs error
	for _, ref := range refs {
		if !s.Delete(ctx, ref) {
			errs = multierr.Append(errs, fmt.Errorf("removing asset %s", ref))
		}
	}
	return errs
}

// LocalPath resolves a local fallback reference to its filesystem path.
// It reports false for remote references.
func (s *BlobStore) LocalPath(ref string) (string, bool) {
	object, ok := strings.CutPrefix(ref, localRefPrefix)
	if !ok {
		return "", false
	}
	return filepath.Join(s.localRoot, filepath.FromSlash(object)), true
}

func (s *BlobStore) reportCleanupFailure(ctx context.Context, ref string, err error) {
	s.metrics.IncCleanupFailure()
	if s.logg != nil {
		logCtx := s.logg.WithField(ctx, "asset_ref", ref)
		s.logg.Error(logCtx, "asset cleanup failed", err)
	}
}
