// Package badge renders favicon with unread count overlay
package badge

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // base icon formats
	_ "image/jpeg"
	"image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/go-pkgz/lcw"
	log "github.com/go-pkgz/lgr"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Size of the icon side in pixels
const Size = 32

const (
	plainKey     = "plain"
	minGlyphSize = 6
)

// glyph position and size for count
type glyph struct {
	size float64
	x, y int
}

// Opts for Renderer
type Opts struct {
	BaseIcon   string // png/gif/jpeg file used as plain icon, built-in one if empty
	OutputFile string // favicon file replaced on each render, optional
	CacheSize  int
}

// Renderer draws 32x32 png icons, plain or with unread count, and keeps the last rendered one
type Renderer struct {
	opts  Opts
	base  image.Image
	font  *opentype.Font
	faces map[float64]font.Face
	cache lcw.LoadingCache

	lock sync.RWMutex
	last []byte
}

// New makes Renderer and renders plain icon
func New(opts Opts) (*Renderer, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	res := Renderer{opts: opts, faces: map[float64]font.Face{}}

	var err error
	if res.font, err = opentype.Parse(gobold.TTF); err != nil {
		return nil, errors.Wrap(err, "can't parse font")
	}
	for _, g := range []glyph{tier(1), tier(10), tier(100)} {
		face, e := res.newFace(g.size)
		if e != nil {
			return nil, errors.Wrapf(e, "can't make face %v", g.size)
		}
		res.faces[g.size] = face
	}

	if res.cache, err = lcw.NewLruCache(lcw.MaxKeys(opts.CacheSize)); err != nil {
		return nil, errors.Wrap(err, "can't make icons cache")
	}

	res.base = defaultIcon()
	if opts.BaseIcon != "" {
		img, e := loadIcon(opts.BaseIcon)
		if e != nil {
			log.Printf("[WARN] can't load base icon %s, use default, %v", opts.BaseIcon, e)
		} else {
			res.base = img
		}
	}

	res.Render(nil)
	return &res, nil
}

// Render makes icon for count, nil count means plain icon. The rendered icon replaces the current one.
// Any failure keeps the previous icon.
func (r *Renderer) Render(count *int) {
	key := plainKey
	if count != nil {
		key = strconv.Itoa(*count)
	}

	data, err := r.cache.Get(key, func() (interface{}, error) {
		return r.draw(count)
	})
	if err != nil {
		log.Printf("[WARN] can't render badge %s, %v", key, err)
		return
	}
	icon, ok := data.([]byte)
	if !ok {
		log.Printf("[WARN] unexpected cached badge type %T", data)
		return
	}

	r.lock.Lock()
	r.last = icon
	r.lock.Unlock()
	log.Printf("[DEBUG] badge rendered, %s", key)

	if r.opts.OutputFile != "" {
		if err := writeFile(r.opts.OutputFile, icon); err != nil {
			log.Printf("[WARN] can't write favicon %s, %v", r.opts.OutputFile, err)
		}
	}
}

// Icon returns png of the last rendered icon
func (r *Renderer) Icon() []byte {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.last
}

func (r *Renderer) draw(count *int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))
	draw.Draw(img, img.Bounds(), r.base, r.base.Bounds().Min, draw.Src)

	if count != nil {
		draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)
		g := tier(*count)
		text := strconv.Itoa(*count)
		face, err := r.fitFace(g, text)
		if err != nil {
			return nil, err
		}
		d := font.Drawer{
			Dst:  img,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(g.x, g.y),
		}
		d.DrawString(text)
	}

	buf := bytes.Buffer{}
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "can't encode png")
	}
	return buf.Bytes(), nil
}

// fitFace returns the tier's face, or a smaller one if text is wider than the icon
func (r *Renderer) fitFace(g glyph, text string) (font.Face, error) {
	face := r.faces[g.size]
	for size := g.size - 1; font.MeasureString(face, text).Ceil() > Size-g.x && size >= minGlyphSize; size-- {
		f, err := r.newFace(size)
		if err != nil {
			return nil, errors.Wrapf(err, "can't make face %v", size)
		}
		face = f
	}
	return face, nil
}

func (r *Renderer) newFace(size float64) (font.Face, error) {
	return opentype.NewFace(r.font, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// tier picks glyph for count, smaller glyph for longer numbers
func tier(count int) glyph {
	switch {
	case count > 99:
		return glyph{size: 18, x: 1, y: 23}
	case count < 10:
		return glyph{size: 28, x: 8, y: 25}
	default:
		return glyph{size: 24, x: 3, y: 25}
	}
}

// defaultIcon is an orange square with a white dot and a feed arc
func defaultIcon() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, Size, Size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 0xf2, G: 0x65, B: 0x22, A: 0xff}), image.Point{}, draw.Src)
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			dx, dy := x-6, y-25
			d2 := dx*dx + dy*dy
			if d2 <= 12 || (x >= 6 && y <= 25 && d2 >= 150 && d2 <= 230) {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func loadIcon(fname string) (image.Image, error) {
	fh, err := os.Open(fname) // nolint
	if err != nil {
		return nil, err
	}
	defer fh.Close() // nolint
	img, _, err := image.Decode(fh)
	return img, err
}

// writeFile replaces file via temp file and rename
func writeFile(fname string, data []byte) error {
	tmp, err := ioutil.TempFile(filepath.Dir(fname), filepath.Base(fname)+".*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fname)
}
