package enums

import "fmt"

// LogoKind identifies how a logo reference should be resolved.
type LogoKind string

const (
	LogoKindNone   LogoKind = "none"
	LogoKindURL    LogoKind = "url"
	LogoKindUpload LogoKind = "upload"
)

var validLogoKinds = []LogoKind{
	LogoKindNone,
	LogoKindURL,
	LogoKindUpload,
}

func (l LogoKind) String() string {
	return string(l)
}

func (l LogoKind) IsValid() bool {
	for _, candidate := range validLogoKinds {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLogoKind converts raw input into a LogoKind. Empty input maps to none.
func ParseLogoKind(value string) (LogoKind, error) {
	if value == "" {
		return LogoKindNone, nil
	}
	for _, candidate := range validLogoKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid logo kind %q", value)
}
