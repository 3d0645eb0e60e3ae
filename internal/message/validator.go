package message

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
	MaxImageRef     = 2048
)

// ValidateText checks that a text body meets content requirements. Empty
// text is accepted.
func ValidateText(text string) error {
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ValidateImageRef checks the length of an image reference. The reference
// itself is opaque.
func ValidateImageRef(ref string) error {
	if len(ref) == 0 {
		return fmt.Errorf("image reference is empty")
	}
	if len(ref) > MaxImageRef {
		return fmt.Errorf("image reference exceeds %d byte limit", MaxImageRef)
	}
	return nil
}
