// Package naming derives event identifiers and object keys for flyers.
package naming

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// FlyerPrefix is the object-store prefix holding flyer images.
const FlyerPrefix = "flyers/"

var (
	ErrEmptyObjectName = errors.New("object name has an empty final segment")
	ErrEmptyEventID    = errors.New("object name yields an empty event id")
	ErrEmptyFlyerFile  = errors.New("flyer url has an empty final path segment")
)

// EventIDFromObjectName returns the text before the first "." of the final
// "/"-separated segment: "flyers/E1.final.png" -> "E1".
func EventIDFromObjectName(name string) (string, error) {
	file := lastSegment(name)
	if file == "" {
		return "", ErrEmptyObjectName
	}
	id, _, _ := strings.Cut(file, ".")
	if id == "" {
		return "", ErrEmptyEventID
	}
	return id, nil
}

// IsFlyerObject reports whether name lives under FlyerPrefix.
func IsFlyerObject(name string) bool {
	return strings.HasPrefix(name, FlyerPrefix)
}

// IsImageContentType reports whether ct is an image/* type.
func IsImageContentType(ct string) bool {
	return strings.HasPrefix(ct, "image/")
}

// FlyerFileFromURL returns the decoded final path segment of a flyer URL;
// the query string is ignored.
func FlyerFileFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse flyer url: %w", err)
	}
	file := lastSegment(u.Path)
	if file == "" {
		return "", ErrEmptyFlyerFile
	}
	return file, nil
}

// FlyerObjectKey joins prefix and file.
func FlyerObjectKey(prefix, file string) string {
	return prefix + file
}

func lastSegment(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
