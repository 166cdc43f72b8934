// Package metadata probes uploaded files: mime type, size, checksum
// and, for images that carry it, EXIF tags.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"

	"file-warehouse/internal/util"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// Info is everything Probe learns about a stored file.
type Info struct {
	MimeType  string
	SizeBytes int64
	MD5       string
	ExifJSON  string // "{}" when the file has no EXIF data
}

// Probe inspects the file at path. EXIF extraction failures are not
// errors; plenty of legitimate uploads carry no EXIF at all.
func Probe(path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect mime: %w", err)
	}

	sum, err := util.FileMD5(path)
	if err != nil {
		return nil, fmt.Errorf("checksum: %w", err)
	}

	return &Info{
		MimeType:  mt.String(),
		SizeBytes: st.Size(),
		MD5:       sum,
		ExifJSON:  ExtractExif(path),
	}, nil
}

// ExtractExif decodes EXIF tags into a JSON object of tag name ->
// string value. Returns "{}" when nothing can be read.
func ExtractExif(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "{}"
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return "{}"
	}

	tags := make(map[string]string)
	_ = x.Walk(walkFunc(func(name exif.FieldName, tag *tiff.Tag) error {
		tags[string(name)] = tag.String()
		return nil
	}))
	if len(tags) == 0 {
		return "{}"
	}

	raw, err := json.Marshal(tags)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// walkFunc adapts a closure to the exif.Walker interface.
type walkFunc func(exif.FieldName, *tiff.Tag) error

func (f walkFunc) Walk(name exif.FieldName, tag *tiff.Tag) error {
	return f(name, tag)
}
