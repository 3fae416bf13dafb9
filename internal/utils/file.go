package utils

import (
	"path/filepath"
	"strings"
)

// Upload extensions the HTTP boundary accepts. Content is still sniffed by
// the decoder; this only rejects obviously wrong uploads early.
var allowedExtensions = []string{"jpg", "jpeg", "png", "webp"}

// GetFileExtension returns the file extension without the dot, lowercased.
func GetFileExtension(filename string) string {
	ext := filepath.Ext(filename)
	if len(ext) > 0 {
		return strings.ToLower(ext[1:])
	}
	return ""
}

// AllowedImageFile checks if an uploaded filename has an accepted image
// extension.
func AllowedImageFile(filename string) bool {
	ext := GetFileExtension(filename)
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
