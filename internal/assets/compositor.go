package assets

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/curtaincall-app/curtaincall-backend/pkg/enums"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
	"github.com/curtaincall-app/curtaincall-backend/pkg/metrics"
)

const (
	captionMargin     = 20
	captionTopBand    = 60
	captionBottomBand = 50

	// The backing disk extends past the logo so the quiet zone around the
	// overlay stays scannable.
	logoDiskPadding = 15

	titleFontSize    = 28
	subtitleFontSize = 20
)

// Theme carries the venue's code colors.
type Theme struct {
	Foreground color.Color
	Background color.Color
}

func (t Theme) foreground() color.Color {
	if t.Foreground == nil {
		return color.Black
	}
	return t.Foreground
}

func (t Theme) background() color.Color {
	if t.Background == nil {
		return color.White
	}
	return t.Background
}

// Caption holds the two text bands appended around the code.
type Caption struct {
	Title    string
	Subtitle string
}

// LogoFetcher resolves a logo reference into a raster. Fetching is the only
// I/O the compositor performs and failures never abort composition.
type LogoFetcher interface {
	Fetch(ctx context.Context, ref string) (image.Image, error)
}

// HTTPLogoFetcher fetches logos over HTTP(S).
type HTTPLogoFetcher struct {
	Client *http.Client
}

func (f *HTTPLogoFetcher) Fetch(ctx context.Context, ref string) (image.Image, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logo fetch returned %s", resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding logo: %w", err)
	}
	return img, nil
}

// Compositor renders themed scannable codes with an optional logo overlay
// and caption bands. Pure except for the logo fetch.
type Compositor struct {
	size    int
	fetcher LogoFetcher
	logg    *logger.Logger
	metrics *metrics.AssetPipelineMetrics
}

// NewCompositor builds a compositor producing size x size pixel matrices.
func NewCompositor(size int, fetcher LogoFetcher, logg *logger.Logger, m *metrics.AssetPipelineMetrics) *Compositor {
	if size <= 0 {
		size = 512
	}
	return &Compositor{size: size, fetcher: fetcher, logg: logg, metrics: m}
}

// ComposeInput describes one raster to generate. Kind feeds the composition
// metrics so single and screen renders are observed separately.
type ComposeInput struct {
	Payload string
	Kind    enums.AssetKind
	Theme   Theme
	Caption Caption
	LogoRef string
}

// Compose renders the scannable code for input.Payload. The logo overlay and
// caption are best-effort: when either step fails the raster from the
// previous step is returned instead, so a scannable matrix always comes back.
func (c *Compositor) Compose(ctx context.Context, input ComposeInput) (image.Image, error) {
	if strings.TrimSpace(input.Payload) == "" {
		return nil, fmt.Errorf("compose: payload is required")
	}

	start := time.Now()

	// Highest recovery level: the overlay disk obscures part of the matrix.
	qr, err := qrcode.New(input.Payload, qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("compose: encoding payload: %w", err)
	}
	qr.ForegroundColor = input.Theme.foreground()
	qr.BackgroundColor = input.Theme.background()
	qr.DisableBorder = false

	raster := qr.Image(c.size)

	if input.LogoRef != "" {
		raster = c.overlayLogo(ctx, raster, input)
	}
	raster = c.appendCaption(ctx, raster, input.Caption)

	c.metrics.ObserveCompose(string(input.Kind), time.Since(start))
	return raster, nil
}

// overlayLogo draws a circularly clipped logo over the matrix center. Any
// failure returns the unmodified matrix.
func (c *Compositor) overlayLogo(ctx context.Context, raster image.Image, input ComposeInput) image.Image {
	if c.fetcher == nil {
		return raster
	}
	logo, err := c.fetcher.Fetch(ctx, input.LogoRef)
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "logo_ref", input.LogoRef), "logo fetch failed, rendering without overlay")
		}
		return raster
	}

	bounds := raster.Bounds()
	shorter := bounds.Dx()
	if bounds.Dy() < shorter {
		shorter = bounds.Dy()
	}
	overlaySize := shorter / 4
	if overlaySize <= 0 {
		return raster
	}

	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, raster, bounds.Min, draw.Src)

	center := image.Pt(bounds.Min.X+bounds.Dx()/2, bounds.Min.Y+bounds.Dy()/2)

	// Solid backing disk first, then the clipped logo inside it.
	diskRadius := overlaySize/2 + logoDiskPadding
	disk := &circleMask{center: center, radius: diskRadius}
	draw.DrawMask(dst, bounds, image.NewUniform(input.Theme.background()), image.Point{}, disk, bounds.Min, draw.Over)

	scaled := image.NewRGBA(image.Rect(0, 0, overlaySize, overlaySize))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), logo, logo.Bounds(), xdraw.Over, nil)

	logoRect := image.Rect(
		center.X-overlaySize/2,
		center.Y-overlaySize/2,
		center.X+overlaySize/2,
		center.Y+overlaySize/2,
	)
	clip := &circleMask{center: center, radius: overlaySize / 2}
	draw.DrawMask(dst, logoRect, scaled, image.Point{}, clip, logoRect.Min, draw.Over)

	return dst
}

// appendCaption places the matrix on a white canvas with a bold uppercase
// title band above and a subtitle band below. Any failure returns the
// unmodified matrix.
func (c *Compositor) appendCaption(ctx context.Context, raster image.Image, caption Caption) image.Image {
	if caption.Title == "" && caption.Subtitle == "" {
		return raster
	}

	titleFace, subtitleFace, err := captionFaces()
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(ctx, "caption fonts unavailable, returning bare code")
		}
		return raster
	}

	bounds := raster.Bounds()
	width := bounds.Dx() + 2*captionMargin
	height := bounds.Dy() + captionTopBand + captionBottomBand

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	target := image.Rect(captionMargin, captionTopBand, captionMargin+bounds.Dx(), captionTopBand+bounds.Dy())
	draw.Draw(canvas, target, raster, bounds.Min, draw.Src)

	if caption.Title != "" {
		drawCenteredText(canvas, strings.ToUpper(caption.Title), titleFace, width, captionTopBand/2+titleFontSize/3)
	}
	if caption.Subtitle != "" {
		baseline := captionTopBand + bounds.Dy() + captionBottomBand/2 + subtitleFontSize/3
		drawCenteredText(canvas, caption.Subtitle, subtitleFace, width, baseline)
	}

	return canvas
}

func drawCenteredText(dst draw.Image, text string, face font.Face, width, baseline int) {
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: face,
	}
	textWidth := drawer.MeasureString(text)
	x := (fixed.I(width) - textWidth) / 2
	if x < 0 {
		x = fixed.I(captionMargin / 2)
	}
	drawer.Dot = fixed.Point26_6{X: x, Y: fixed.I(baseline)}
	drawer.DrawString(text)
}

var (
	faceOnce     sync.Once
	faceErr      error
	titleFace    font.Face
	subtitleFace font.Face
)

func captionFaces() (font.Face, font.Face, error) {
	faceOnce.Do(func() {
		bold, err := opentype.Parse(gobold.TTF)
		if err != nil {
			faceErr = err
			return
		}
		regular, err := opentype.Parse(goregular.TTF)
		if err != nil {
			faceErr = err
			return
		}
		titleFace, faceErr = opentype.NewFace(bold, &opentype.FaceOptions{
			Size: titleFontSize, DPI: 72, Hinting: font.HintingFull,
		})
		if faceErr != nil {
			return
		}
		subtitleFace, faceErr = opentype.NewFace(regular, &opentype.FaceOptions{
			Size: subtitleFontSize, DPI: 72, Hinting: font.HintingFull,
		})
	})
	return titleFace, subtitleFace, faceErr
}

// circleMask is an alpha mask covering a filled circle.
type circleMask struct {
	center image.Point
	radius int
}

func (m *circleMask) ColorModel() color.Model {
	return color.AlphaModel
}

func (m *circleMask) Bounds() image.Rectangle {
	return image.Rect(
		m.center.X-m.radius,
		m.center.Y-m.radius,
		m.center.X+m.radius,
		m.center.Y+m.radius,
	)
}

func (m *circleMask) At(x, y int) color.Color {
	dx := x - m.center.X
	dy := y - m.center.Y
	if dx*dx+dy*dy <= m.radius*m.radius {
		return color.Alpha{A: 0xff}
	}
	return color.Alpha{}
}
