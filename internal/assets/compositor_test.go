package assets

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	"github.com/curtaincall-app/curtaincall-backend/pkg/metrics"
)

type stubLogoFetcher struct {
	img image.Image
	err error
}

func (f *stubLogoFetcher) Fetch(context.Context, string) (image.Image, error) {
	return f.img, f.err
}

func solidImage(size int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCompose_ObservesDurationPerAssetKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	comp := NewCompositor(64, nil, nil, metrics.NewAssetPipelineMetrics(reg))

	_, err := comp.Compose(context.Background(), ComposeInput{
		Payload: "https://example.com/a",
		Kind:    enums.AssetKindSingle,
	})
	require.NoError(t, err)
	_, err = comp.Compose(context.Background(), ComposeInput{
		Payload: "https://example.com/b",
		Kind:    enums.AssetKindScreen,
	})
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	kinds := map[string]bool{}
	for _, family := range families {
		if family.GetName() != "asset_compose_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "kind" {
					kinds[label.GetValue()] = true
				}
			}
		}
	}
	assert.True(t, kinds["single"], "missing single series: %v", kinds)
	assert.True(t, kinds["screen"], "missing screen series: %v", kinds)
}

func TestCompose_RequiresPayload(t *testing.T) {
	comp := NewCompositor(256, nil, nil, nil)

	_, err := comp.Compose(context.Background(), ComposeInput{Payload: "   "})
	require.Error(t, err)
}

func TestCompose_BareCodeDimensions(t *testing.T) {
	comp := NewCompositor(256, nil, nil, nil)

	raster, err := comp.Compose(context.Background(), ComposeInput{Payload: "https://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, 256, raster.Bounds().Dx())
	assert.Equal(t, 256, raster.Bounds().Dy())
}

func TestCompose_CaptionBandsExtendTheCanvas(t *testing.T) {
	comp := NewCompositor(256, nil, nil, nil)

	raster, err := comp.Compose(context.Background(), ComposeInput{
		Payload: "https://example.com/a",
		Caption: Caption{Title: "Balcony", Subtitle: "Premium A1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 256+2*captionMargin, raster.Bounds().Dx())
	assert.Equal(t, 256+captionTopBand+captionBottomBand, raster.Bounds().Dy())
}

func TestCompose_LogoFetchFailureDegradesToBareCode(t *testing.T) {
	fetcher := &stubLogoFetcher{err: fmt.Errorf("connection refused")}
	comp := NewCompositor(256, fetcher, nil, nil)

	raster, err := comp.Compose(context.Background(), ComposeInput{
		Payload: "https://example.com/a",
		LogoRef: "https://cdn.example.com/logo.png",
	})
	require.NoError(t, err)
	assert.Equal(t, 256, raster.Bounds().Dx())
}

func TestCompose_LogoOverlaySitsOnABackingDisk(t *testing.T) {
	logoColor := color.RGBA{R: 200, G: 20, B: 20, A: 255}
	fetcher := &stubLogoFetcher{img: solidImage(64, logoColor)}
	comp := NewCompositor(256, fetcher, nil, nil)

	raster, err := comp.Compose(context.Background(), ComposeInput{
		Payload: "https://example.com/a",
		LogoRef: "https://cdn.example.com/logo.png",
	})
	require.NoError(t, err)

	center := image.Pt(raster.Bounds().Dx()/2, raster.Bounds().Dy()/2)
	r, g, b, _ := raster.At(center.X, center.Y).RGBA()
	assert.Greater(t, r, g, "logo pixel should dominate the center")
	assert.Greater(t, r, b)

	// Between the logo edge and the disk edge only the backing disk shows.
	overlaySize := 256 / 4
	ringX := center.X + overlaySize/2 + logoDiskPadding/2
	r, g, b, _ = raster.At(ringX, center.Y).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), g)
	assert.Equal(t, uint32(0xffff), b)
}

func TestCompose_ThemeColorsApply(t *testing.T) {
	comp := NewCompositor(256, nil, nil, nil)
	bg := color.RGBA{R: 10, G: 10, B: 80, A: 255}

	raster, err := comp.Compose(context.Background(), ComposeInput{
		Payload: "https://example.com/a",
		Theme:   Theme{Foreground: color.White, Background: bg},
	})
	require.NoError(t, err)

	// The quiet-zone border always renders in the background color.
	r, g, b, _ := raster.At(1, 1).RGBA()
	er, eg, eb, _ := bg.RGBA()
	assert.Equal(t, er, r)
	assert.Equal(t, eg, g)
	assert.Equal(t, eb, b)
}
