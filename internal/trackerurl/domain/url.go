package domain

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

type Platform string

const (
	PlatformSteam  Platform = "STEAM"
	PlatformEpic   Platform = "EPIC"
	PlatformPSN    Platform = "PSN"
	PlatformXBL    Platform = "XBL"
	PlatformSwitch Platform = "SWITCH"
)

type Game string

const GameRocketLeague Game = "ROCKET_LEAGUE"

const (
	Scheme      = "https"
	Host        = "rocketleague.tracker.network"
	PathPrefix  = "/rocket-league/profile/"
	PathSuffix  = "/overview"
	MaxUsername = 100
)

// platformSegments maps the lowercase URL segment to the platform.
var platformSegments = map[string]Platform{
	"steam":  PlatformSteam,
	"epic":   PlatformEpic,
	"psn":    PlatformPSN,
	"xbl":    PlatformXBL,
	"switch": PlatformSwitch,
}

// SupportedPlatforms lists the URL segments accepted by Parse.
func SupportedPlatforms() []string {
	return []string{"steam", "epic", "psn", "xbl", "switch"}
}

// ParsedURL is a validated tracker profile link.
type ParsedURL struct {
	// URL is the canonical form: no trailing slash, lowercase platform.
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
	Username string   `json:"username"`
	Game     Game     `json:"game"`
}

// Parse validates the structure of a tracker profile URL and extracts its
// platform and username. It does not consult storage.
func Parse(raw string) (ParsedURL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedURL{}, newValidationError(ReasonFormat, raw, "URL is required")
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return ParsedURL{}, newValidationError(ReasonFormat, raw, "URL could not be parsed")
	}
	if u.Scheme != Scheme {
		return ParsedURL{}, newValidationError(ReasonFormat, raw, "URL must use https")
	}
	if u.User != nil || u.Host != Host {
		return ParsedURL{}, newValidationError(ReasonFormat, raw, "URL host must be "+Host)
	}
	if u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return ParsedURL{}, newValidationError(ReasonFormat, raw, "URL must not carry a query or fragment")
	}

	path := u.EscapedPath()
	path = strings.TrimSuffix(path, "/")
	if !strings.HasPrefix(path, PathPrefix) || !strings.HasSuffix(path, PathSuffix) {
		return ParsedURL{}, newValidationError(ReasonFormat, raw, pathHint())
	}

	middle := strings.TrimSuffix(strings.TrimPrefix(path, PathPrefix), PathSuffix)
	segments := strings.Split(middle, "/")
	switch {
	case len(segments) == 1:
		// profile/{platform}/overview: the username segment is missing.
		return ParsedURL{}, newValidationError(ReasonInvalidUsername, raw, usernameHint())
	case len(segments) > 2:
		return ParsedURL{}, newValidationError(ReasonFormat, raw, pathHint())
	}

	platformSegment := strings.ToLower(segments[0])
	platform, ok := platformSegments[platformSegment]
	if !ok {
		return ParsedURL{}, newValidationError(ReasonUnsupportedPlatform, raw, fmt.Sprintf(
			"platform %q is not supported; expected one of %s",
			segments[0], strings.Join(SupportedPlatforms(), ", "),
		))
	}

	username, err := url.PathUnescape(segments[1])
	if err != nil {
		return ParsedURL{}, newValidationError(ReasonInvalidUsername, raw, "username is not a valid path segment")
	}
	if strings.TrimSpace(username) == "" || utf8.RuneCountInString(username) > MaxUsername {
		return ParsedURL{}, newValidationError(ReasonInvalidUsername, raw, usernameHint())
	}

	return ParsedURL{
		URL:      Canonical(platformSegment, username),
		Platform: platform,
		Username: username,
		Game:     GameRocketLeague,
	}, nil
}

// Canonical builds the stored form of a profile URL. The username is the
// decoded value; it is re-escaped so equivalent encodings compare equal.
func Canonical(platformSegment, username string) string {
	return Scheme + "://" + Host + PathPrefix + strings.ToLower(platformSegment) + "/" + url.PathEscape(username) + PathSuffix
}

func pathHint() string {
	return "URL path must look like " + PathPrefix + "{platform}/{username}" + PathSuffix
}

func usernameHint() string {
	return fmt.Sprintf("username must be between 1 and %d characters", MaxUsername)
}
