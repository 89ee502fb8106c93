package vision

import "context"

// Annotator converts an image into a natural-language description.
type Annotator interface {
	// Describe accepts an https:// URL, a data: URL, or a bare base64 image
	// payload, and returns a textual description of the image.
	Describe(ctx context.Context, image string) (string, error)
}
