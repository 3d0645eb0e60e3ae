// Package message implements the group and direct message logs. Both stores
// are in-memory, append-only apart from author-authorized deletion, and safe
// for concurrent use.
package message

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind tags the variant of a message body.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Body is the content of a message: exactly one of Text or Image.
type Body interface {
	Kind() Kind
	Value() string
	isBody()
}

// Text is a plain-text body. The empty string is a valid text body.
type Text string

// Image is a body holding an opaque reference to stored media.
type Image string

func (Text) Kind() Kind { return KindText }

func (t Text) Value() string { return string(t) }

func (Text) isBody() {}

func (Image) Kind() Kind { return KindImage }

func (i Image) Value() string { return string(i) }

func (Image) isBody() {}

// ErrEmptyBody is returned when neither text nor an image was supplied.
var ErrEmptyBody = errors.New("message: body requires text or image")

// NewBody builds a body from an inbound payload. An image reference takes
// precedence; otherwise text must be present, though it may be empty.
func NewBody(text *string, image string) (Body, error) {
	if image != "" {
		if err := ValidateImageRef(image); err != nil {
			return nil, err
		}
		return Image(image), nil
	}
	if text == nil {
		return nil, ErrEmptyBody
	}
	if err := ValidateText(*text); err != nil {
		return nil, err
	}
	return Text(*text), nil
}

// NewID returns a time-ordered identifier; later calls sort after earlier ones.
func NewID() string {
	return ulid.Make().String()
}

// clock and idFunc let tests pin timestamps and identifiers.
type (
	clock  func() time.Time
	idFunc func() string
)

// Option configures a store.
type Option func(*options)

type options struct {
	now   clock
	newID idFunc
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDs overrides the identifier source.
func WithIDs(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func buildOptions(opts []Option) options {
	o := options{
		now:   func() time.Time { return time.Now().UTC() },
		newID: NewID,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
