package util

import (
	"fmt"
	"regexp"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// ValidateUsername checks the 3-20 letters/digits/underscore rule.
func ValidateUsername(username string) error {
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username must be 3-20 letters, digits or underscores")
	}
	return nil
}

// ValidatePassword enforces 8-32 chars with upper, lower and digit.
func ValidatePassword(pwd string) error {
	if len(pwd) < 8 || len(pwd) > 32 {
		return fmt.Errorf("password must be 8-32 characters")
	}
	var hasUpper, hasLower, hasDigit bool
	for _, ch := range pwd {
		switch {
		case ch >= 'A' && ch <= 'Z':
			hasUpper = true
		case ch >= 'a' && ch <= 'z':
			hasLower = true
		case ch >= '0' && ch <= '9':
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("password needs upper and lower case letters and a digit")
	}
	return nil
}

// ValidateTitle checks an upload title (may be empty, bounded length).
func ValidateTitle(title string) error {
	if len(title) > 255 {
		return fmt.Errorf("title too long, max 255 characters")
	}
	return nil
}

// ValidateFilename rejects empty names and path traversal in uploads.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename is empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("filename too long")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == '\\' || name[i] == 0 {
			return fmt.Errorf("filename contains path separator")
		}
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid filename")
	}
	return nil
}
