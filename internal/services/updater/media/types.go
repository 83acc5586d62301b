package media

// DefaultAllowedTypes are the cover formats upstreams serve
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

var extByType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

func extForType(ct string) string {
	if e, ok := extByType[ct]; ok {
		return e
	}
	return "bin"
}

func typeForExt(ext string) string {
	for t, e := range extByType {
		if e == ext {
			return t
		}
	}
	return "application/octet-stream"
}
