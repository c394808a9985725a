package filekit

// Visibility controls who may read an uploaded object.
type Visibility string

const (
	Private Visibility = "private"
	Public  Visibility = "public"
)

// Options collects per-upload settings.
type Options struct {
	ContentType  string
	CacheControl string
	Visibility   Visibility
	Metadata     map[string]string
}

// Option configures an upload.
type Option func(*Options)

// WithContentType sets the object content type.
func WithContentType(contentType string) Option {
	return func(o *Options) { o.ContentType = contentType }
}

// WithCacheControl sets the Cache-Control header stored with the object.
func WithCacheControl(value string) Option {
	return func(o *Options) { o.CacheControl = value }
}

// WithVisibility sets the object visibility.
func WithVisibility(v Visibility) Option {
	return func(o *Options) { o.Visibility = v }
}

// WithMetadata attaches user metadata to the object.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			o.Metadata[k] = v
		}
	}
}

// ProcessOptions folds options over the zero Options value.
func ProcessOptions(options ...Option) *Options {
	opts := &Options{}
	for _, option := range options {
		option(opts)
	}
	return opts
}
