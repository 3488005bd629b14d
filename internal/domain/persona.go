package domain

import (
	"fmt"
	"strings"
)

// PersonaTag identifies one system-prompt profile.
type PersonaTag string

const (
	PersonaExplain          PersonaTag = "EXPLAIN"
	PersonaEmotionalSupport PersonaTag = "EMOTIONAL_SUPPORT"
	PersonaParenting        PersonaTag = "PARENTING"
	PersonaEthics           PersonaTag = "ETHICS"
)

// callbackPrefix namespaces persona selections inside inline button data.
const callbackPrefix = "persona:"

// Persona is an immutable system-prompt profile.
type Persona struct {
	Tag          PersonaTag
	Label        string
	SystemPrompt string
}

// ParsePersonaTag maps a raw tag to a known persona tag.
func ParsePersonaTag(raw string) (PersonaTag, error) {
	tag := PersonaTag(strings.ToUpper(strings.TrimSpace(raw)))
	switch tag {
	case PersonaExplain, PersonaEmotionalSupport, PersonaParenting, PersonaEthics:
		return tag, nil
	}
	return "", fmt.Errorf("domain: unknown persona %q", raw)
}

// CallbackData is the inline button payload that selects tag.
func (t PersonaTag) CallbackData() string {
	return callbackPrefix + string(t)
}

// PersonaFromCallbackData extracts the persona tag from inline button data.
func PersonaFromCallbackData(data string) (PersonaTag, error) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(data), callbackPrefix)
	if !ok {
		return "", fmt.Errorf("domain: callback data %q is not a persona selection", data)
	}
	return ParsePersonaTag(raw)
}
