package storage

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultExtension is used when neither the content type nor the URL reveal
// the media format.
const DefaultExtension = "jpg"

var contentTypeExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"video/mp4":  "mp4",
	"video/webm": "webm",
}

// Filename builds the deterministic output filename for a media item. The
// media key makes it collision-free; the rest makes it human-sortable.
func Filename(createdAt time.Time, username, tweetID, mediaKey, extension string) string {
	if extension == "" {
		extension = DefaultExtension
	}
	return fmt.Sprintf("%s %s %s %s.%s",
		createdAt.UTC().Format(time.RFC3339), username, tweetID, mediaKey, extension)
}

// ExtensionFor infers a file extension from the response content type,
// falling back to the URL's format query parameter, then its path.
func ExtensionFor(contentType, mediaURL string) string {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if ext, ok := contentTypeExtensions[mediaType]; ok {
				return ext
			}
		}
	}

	if parsed, err := url.Parse(mediaURL); err == nil {
		if format := parsed.Query().Get("format"); format != "" {
			return format
		}
		if ext := strings.TrimPrefix(path.Ext(parsed.Path), "."); ext != "" {
			return ext
		}
	}

	return DefaultExtension
}

// mediaKeyFromFilename recovers the media key from an output filename. It is
// the last space-separated field with the extension stripped. Returns ""
// for files that do not follow the naming scheme.
func mediaKeyFromFilename(name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)

	fields := strings.Split(base, " ")
	if len(fields) < 4 {
		return ""
	}
	return fields[len(fields)-1]
}
