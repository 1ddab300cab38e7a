package twitter

import "time"

// TweetsResponse is the envelope returned by the liked-tweets endpoint.
type TweetsResponse struct {
	Data     []Tweet   `json:"data"`
	Includes *Includes `json:"includes,omitempty"`
	Meta     *Meta     `json:"meta,omitempty"`
}

// UserResponse wraps a single-user lookup.
type UserResponse struct {
	Data User `json:"data"`
}

// Tweet is a single liked tweet with the fields the archiver requests.
type Tweet struct {
	ID          string       `json:"id"`
	Text        string       `json:"text,omitempty"`
	AuthorID    string       `json:"author_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
	Attachments *Attachments `json:"attachments,omitempty"`
	Entities    *Entities    `json:"entities,omitempty"`
}

// Attachments lists the media keys attached to a tweet. The media objects
// themselves arrive in the response includes.
type Attachments struct {
	MediaKeys []string `json:"media_keys,omitempty"`
}

// Entities carries the URL entities embedded in the tweet text.
type Entities struct {
	URLs []URLEntity `json:"urls,omitempty"`
}

// URLEntity is a link in the tweet body; link cards carry preview images.
type URLEntity struct {
	URL         string        `json:"url,omitempty"`
	ExpandedURL string        `json:"expanded_url,omitempty"`
	Images      []EntityImage `json:"images,omitempty"`
}

// EntityImage is one preview image variant of a link card.
type EntityImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Includes carries the expanded objects referenced by the tweets.
type Includes struct {
	Media []Media `json:"media,omitempty"`
	Users []User  `json:"users,omitempty"`
}

// Media kinds the API reports today. Anything else is preserved verbatim and
// treated as an unknown kind downstream.
const (
	MediaTypePhoto       = "photo"
	MediaTypeVideo       = "video"
	MediaTypeAnimatedGIF = "animated_gif"
)

// Media is one expanded media object.
type Media struct {
	MediaKey string    `json:"media_key"`
	Type     string    `json:"type"`
	URL      string    `json:"url,omitempty"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Variants []Variant `json:"variants,omitempty"`
}

// Variant is one rendition of a video or animated gif.
type Variant struct {
	BitRate     int    `json:"bit_rate,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url"`
}

// User identifies a tweet author.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Meta carries pagination state. An absent NextToken means the collection is
// exhausted.
type Meta struct {
	ResultCount int    `json:"result_count"`
	NextToken   string `json:"next_token,omitempty"`
}
