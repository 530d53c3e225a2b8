package buffer

import "strings"

// Language is the detected content language of a buffer.
type Language string

const (
	LanguageJCL   Language = "jcl"
	LanguageCOBOL Language = "cobol"
	LanguageREXX  Language = "rexx"
	LanguageText  Language = "text"
)

// DetectLanguage guesses the language of member content. A JCL job
// stream starts with "//"; REXX execs announce themselves in their first
// line comment; COBOL programs carry an IDENTIFICATION DIVISION.
func DetectLanguage(content string) Language {
	first := ""
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			first = strings.TrimSpace(line)
			break
		}
	}

	upper := strings.ToUpper(content)
	switch {
	case strings.HasPrefix(first, "//"):
		return LanguageJCL
	case strings.Contains(strings.ToUpper(first), "REXX"):
		return LanguageREXX
	case strings.Contains(upper, "IDENTIFICATION DIVISION"), strings.Contains(upper, "ID DIVISION"):
		return LanguageCOBOL
	default:
		return LanguageText
	}
}
