package batch

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/pkg/file"
)

const (
	outputSuffix   = "-removed"
	OutputExt      = ".png"
	fallbackOutput = "image"
)

// DefaultOutputName derives "<stem>-removed" from an original file name.
func DefaultOutputName(sourceName string) string {
	stem := cleanName(file.Stem(sourceName))
	if stem == "" {
		stem = fallbackOutput
	}
	return stem + outputSuffix
}

// NormalizeOutputName validates a user supplied base name. A trailing ".png"
// is dropped since consumers append it themselves.
func NormalizeOutputName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if strings.HasSuffix(strings.ToLower(name), OutputExt) {
		name = strings.TrimSpace(name[:len(name)-len(OutputExt)])
	}
	name = cleanName(name)
	if name == "" {
		return "", apperr.New(apperr.ErrValidation, "output name must not be empty")
	}
	return name, nil
}

// cleanName NFC-normalises s and flattens path separators so names stay
// usable as archive entries.
func cleanName(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}
