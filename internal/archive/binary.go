package archive

import (
	"path"
	"strings"
)

// binaryExtensions is the fixed denylist of file types whose content is
// never loaded into the tree.
var binaryExtensions = map[string]bool{
	// images
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".bmp": true, ".webp": true, ".tiff": true,
	// documents
	".pdf": true,
	// archives
	".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".rar": true,
	".7z": true, ".bz2": true, ".xz": true,
	// executables and libraries
	".exe": true, ".dll": true, ".bin": true, ".so": true, ".dylib": true,
	".class": true, ".jar": true, ".wasm": true,
	// audio
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true, ".aac": true,
	// video
	".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true,
}

// IsBinary reports whether a file name matches the binary denylist.
func IsBinary(name string) bool {
	return binaryExtensions[strings.ToLower(path.Ext(name))]
}
