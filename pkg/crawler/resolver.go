package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/tommilligan/magpie-twitter-bot/pkg/twitter"
)

// MediaKind classifies a resolved media item.
type MediaKind string

const (
	KindPhoto       MediaKind = "photo"
	KindVideo       MediaKind = "video"
	KindAnimatedGIF MediaKind = "animated_gif"
	KindOther       MediaKind = "other"
)

// Candidate is one downloadable rendition of a media item.
type Candidate struct {
	URL     string
	Width   int
	Height  int
	BitRate int
}

// MediaDescriptor is a media item resolved from a liked tweet. Candidates
// are ordered best rendition first; the downloader tries them in order.
type MediaDescriptor struct {
	MediaKey   string
	Kind       MediaKind
	Candidates []Candidate
}

// LikedPost is one liked tweet with its media resolved.
type LikedPost struct {
	ID        string
	CreatedAt time.Time
	Author    string
	Media     []MediaDescriptor
}

// resolveMedia maps a tweet and the page includes onto media descriptors.
// A tweet without any resolvable media yields an empty slice.
func resolveMedia(tweet *twitter.Tweet, mediaByKey map[string]twitter.Media) []MediaDescriptor {
	var descriptors []MediaDescriptor

	if tweet.Attachments != nil {
		for _, key := range tweet.Attachments.MediaKeys {
			media, ok := mediaByKey[key]
			if !ok {
				// Referenced but not expanded; nothing to download.
				continue
			}
			if descriptor, ok := resolveAttachment(media); ok {
				descriptors = append(descriptors, descriptor)
			}
		}
	}

	if tweet.Entities != nil {
		for _, entity := range tweet.Entities.URLs {
			if descriptor, ok := resolveCardImage(entity); ok {
				descriptors = append(descriptors, descriptor)
			}
		}
	}

	return descriptors
}

func resolveAttachment(media twitter.Media) (MediaDescriptor, bool) {
	switch media.Type {
	case twitter.MediaTypePhoto:
		if media.URL == "" {
			return MediaDescriptor{}, false
		}
		return MediaDescriptor{
			MediaKey: media.MediaKey,
			Kind:     KindPhoto,
			Candidates: []Candidate{
				{URL: media.URL, Width: media.Width, Height: media.Height},
			},
		}, true

	case twitter.MediaTypeVideo, twitter.MediaTypeAnimatedGIF:
		candidates := variantCandidates(media.Variants)
		if len(candidates) == 0 {
			return MediaDescriptor{}, false
		}
		kind := KindVideo
		if media.Type == twitter.MediaTypeAnimatedGIF {
			kind = KindAnimatedGIF
		}
		return MediaDescriptor{MediaKey: media.MediaKey, Kind: kind, Candidates: candidates}, true

	default:
		// Unknown kinds are kept only when the API gave us a direct URL.
		if media.URL == "" {
			return MediaDescriptor{}, false
		}
		return MediaDescriptor{
			MediaKey: media.MediaKey,
			Kind:     KindOther,
			Candidates: []Candidate{
				{URL: media.URL, Width: media.Width, Height: media.Height},
			},
		}, true
	}
}

// variantCandidates orders video renditions by bit rate, highest first.
// The sort is stable so equal bit rates keep their API order.
func variantCandidates(variants []twitter.Variant) []Candidate {
	candidates := make([]Candidate, 0, len(variants))
	for _, variant := range variants {
		if variant.URL == "" {
			continue
		}
		candidates = append(candidates, Candidate{URL: variant.URL, BitRate: variant.BitRate})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].BitRate > candidates[j].BitRate
	})

	return candidates
}

// resolveCardImage extracts the preview images of a link card, the largest
// first. The media key is synthesized from the image URL so the dedup ledger
// can track card images alongside native attachments.
func resolveCardImage(entity twitter.URLEntity) (MediaDescriptor, bool) {
	candidates := make([]Candidate, 0, len(entity.Images))
	for _, image := range entity.Images {
		if image.URL == "" {
			continue
		}
		candidates = append(candidates, Candidate{URL: image.URL, Width: image.Width, Height: image.Height})
	}
	if len(candidates) == 0 {
		return MediaDescriptor{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Height > candidates[j].Height
	})

	return MediaDescriptor{
		MediaKey:   cardMediaKey(candidates[0].URL),
		Kind:       KindPhoto,
		Candidates: candidates,
	}, true
}

// cardMediaKey derives a stable synthetic media key from the largest image
// URL of a link card.
func cardMediaKey(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	return "card_" + hex.EncodeToString(sum[:8])
}
