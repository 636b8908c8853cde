package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	genericFence = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	taggedFence  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]+\\s*(.*?)\\s*```")
)

// ExtractJSON decodes a JSON body out of model text into v. It tries, in
// order: the whole text, the first generic ``` block, the first
// language-tagged ```json block. The first candidate that decodes wins.
func ExtractJSON(text string, v any) error {
	candidates := []string{strings.TrimSpace(text)}
	if m := genericFence.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := taggedFence.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), v); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		return ErrParse
	}
	return fmt.Errorf("%w: %v", ErrParse, lastErr)
}
