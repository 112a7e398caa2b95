package dispatch

import "strings"

// IntentClassifier decides whether free text asks for an image.
type IntentClassifier interface {
	WantsImage(text string) bool
}

// DefaultImageTriggers are the phrases that route a chat message to image
// generation.
var DefaultImageTriggers = []string{
	"draw ",
	"generate an image",
	"generate a picture",
	"create an image",
	"create a picture",
	"make an image",
	"make a picture",
	"picture of",
	"image of",
	"photo of",
	"/image ",
}

// KeywordClassifier matches a fixed list of lower-case trigger phrases.
type KeywordClassifier struct {
	triggers []string
}

// NewKeywordClassifier creates a classifier. A nil list uses DefaultImageTriggers.
func NewKeywordClassifier(triggers []string) *KeywordClassifier {
	if triggers == nil {
		triggers = DefaultImageTriggers
	}
	norm := make([]string, 0, len(triggers))
	for _, t := range triggers {
		if t = strings.ToLower(t); strings.TrimSpace(t) != "" {
			norm = append(norm, t)
		}
	}
	return &KeywordClassifier{triggers: norm}
}

// WantsImage reports whether text contains any trigger.
func (k *KeywordClassifier) WantsImage(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text)) + " "
	for _, t := range k.triggers {
		if strings.HasPrefix(t, "/") {
			if strings.HasPrefix(lower, t) {
				return true
			}
			continue
		}
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
