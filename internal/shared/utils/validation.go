package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Name limits of the host catalog.
const (
	MaxDatasetNameLength = 44
	MaxQualifierLength   = 8
	MaxMemberNameLength  = 8
	MaxPromptSize        = 16 * 1024 // 16KB - single assistant prompt
	MaxCommandLength     = 126       // operator command line limit
)

var (
	// QualifierPattern is one dataset name qualifier: a letter or national
	// character followed by letters, digits, nationals or hyphens.
	QualifierPattern = regexp.MustCompile(`^[A-Z@#$][A-Z0-9@#$-]*$`)
	// MemberPattern is a PDS member name.
	MemberPattern = regexp.MustCompile(`^[A-Z@#$][A-Z0-9@#$]*$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateDatasetName validates a fully qualified dataset name.
// Names are compared upper-case, as the host stores them.
func ValidateDatasetName(name string) error {
	if err := ValidateString(name, "dataset name", 1, MaxDatasetNameLength, true); err != nil {
		return err
	}

	for _, q := range strings.Split(strings.ToUpper(name), ".") {
		if q == "" || len(q) > MaxQualifierLength {
			return fmt.Errorf("dataset name %q has a qualifier of invalid length", name)
		}
		if !QualifierPattern.MatchString(q) {
			return fmt.Errorf("dataset name %q contains invalid qualifier %q", name, q)
		}
	}

	return nil
}

// ValidateMemberName validates a member name.
func ValidateMemberName(name string) error {
	if err := ValidateString(name, "member name", 1, MaxMemberNameLength, true); err != nil {
		return err
	}

	if !MemberPattern.MatchString(strings.ToUpper(name)) {
		return fmt.Errorf("member name %q contains invalid characters", name)
	}

	return nil
}

// ValidatePrompt validates an assistant prompt
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	return ValidateString(prompt, "prompt", 1, MaxPromptSize, true)
}

// ValidateCommand validates an operator command line
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("command is required")
	}
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("command must be a single line")
	}
	return ValidateString(command, "command", 1, MaxCommandLength, true)
}
