// Package dump writes everything a parsed book contains - document text,
// images, metadata and a cover thumbnail - into an output directory.
package dump

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"demobi/config"
	"demobi/history"
	"demobi/mobi"
)

type Dumper struct {
	log *zap.Logger
	cfg *config.DumpConfig
}

func New(cfg *config.DumpConfig, log *zap.Logger) *Dumper {
	return &Dumper{log: log.Named("dumper"), cfg: cfg}
}

// bookMetadata is the shape of the metadata.yaml file.
type bookMetadata struct {
	Source    string `yaml:"source"`
	Title     string `yaml:"title"`
	Author    string `yaml:"author,omitempty"`
	Publisher string `yaml:"publisher,omitempty"`
	Locale    uint32 `yaml:"locale,omitempty"`
	Encoding  uint32 `yaml:"text_encoding,omitempty"`
	TextBytes int    `yaml:"text_bytes"`
	Images    int    `yaml:"images"`
}

// Extract decodes the book at path and writes its content into a
// per-book subdirectory of the configured output directory. It returns
// the directory and the set of files written, keyed by relative path.
func (d *Dumper) Extract(path string) (dir string, artifacts map[string]history.Artifact, err error) {
	d.log.Debug("Extraction starting", zap.String("file", path))
	defer func(start time.Time) {
		d.log.Debug("Extraction finished", zap.String("dir", dir), zap.Int("artifacts", len(artifacts)), zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	book, err := mobi.Open(path, d.log)
	if err != nil {
		return "", nil, err
	}
	defer book.Close()

	if err := book.Load(); err != nil {
		return "", nil, err
	}

	meta := book.Metadata()
	dir = filepath.Join(d.cfg.OutputPath, bookDirName(path, meta.Title))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("unable to create book directory '%s': %w", dir, err)
	}

	artifacts = make(map[string]history.Artifact)
	store := func(name, kind string, data []byte) error {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return fmt.Errorf("unable to write %s '%s': %w", kind, name, err)
		}
		artifacts[name] = history.Artifact{Kind: kind, Size: int64(len(data))}
		return nil
	}

	text := book.Text()
	if err := store("book.html", "text", text); err != nil {
		return "", nil, err
	}
	d.log.Info("Document extracted", zap.String("title", meta.Title), zap.String("size", humanize.Bytes(uint64(len(text)))))

	var images int
	for i := 1; i <= book.ImagesCount(); i++ {
		img := book.Image(i)
		if img == nil {
			continue
		}
		if err := store(fmt.Sprintf("img-%04d%s", i, img.Type.Ext()), "image", img.Data); err != nil {
			return "", nil, err
		}
		images++
	}

	if cover := book.Cover(); cover != nil {
		thumb, err := d.makeThumbnail(cover)
		if err != nil {
			d.log.Warn("Unable to produce cover thumbnail", zap.Error(err))
		} else if err := store("cover.jpg", "cover", thumb); err != nil {
			return "", nil, err
		}
	}

	data, err := yaml.Marshal(bookMetadata{
		Source:    path,
		Title:     meta.Title,
		Author:    meta.Author,
		Publisher: meta.Publisher,
		Locale:    meta.Locale,
		Encoding:  book.TextEncoding(),
		TextBytes: len(text),
		Images:    images,
	})
	if err != nil {
		return "", nil, fmt.Errorf("unable to marshal book metadata: %w", err)
	}
	if err := store("metadata.yaml", "metadata", data); err != nil {
		return "", nil, err
	}
	return dir, artifacts, nil
}

// makeThumbnail re-encodes the cover as JPEG, resizing it down when it
// exceeds the configured bounding box.
func (d *Dumper) makeThumbnail(cover *mobi.Image) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(cover.Data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode cover image: %w", err)
	}

	if b := img.Bounds(); b.Dx() > d.cfg.Thumbnail.Width || b.Dy() > d.cfg.Thumbnail.Height {
		img = imaging.Fit(img, d.cfg.Thumbnail.Width, d.cfg.Thumbnail.Height, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, fmt.Errorf("unable to encode cover thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// bookDirName picks the output directory name for a book: a slug of the
// title when there is one, the source file name otherwise.
func bookDirName(path, title string) string {
	if name := slug.Make(title); len(name) > 0 {
		return name
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
