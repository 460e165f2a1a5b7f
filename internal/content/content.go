// Package content canonicalizes ingested text and fingerprints it for deduplication.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/Alias1177/TruthMesh/models"
)

var (
	urlRe        = regexp.MustCompile(`https?://\S+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize strips URLs, collapses whitespace and trims the result
func Normalize(text string) string {
	noURLs := urlRe.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(noURLs, " "))
}

// Fingerprint returns the hex SHA-256 digest of already normalized text
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Prepare normalizes an incoming event in place and returns its content hash.
// An empty hash means the event has no text left after normalization.
func Prepare(ev *models.IncomingEvent) string {
	ev.Text = Normalize(ev.Text)
	if ev.Text == "" {
		return ""
	}
	return Fingerprint(ev.Text)
}
