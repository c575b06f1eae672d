// Package paths converts filesystem paths between WSL, Git-Bash, and
// Windows styles. Pure string manipulation, no I/O; conversion never fails,
// it falls back to returning the input unchanged.
package paths

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Recognized path styles.
const (
	StyleWSL     = "wsl"              // /mnt/x/...
	StyleGitBash = "windows_git_bash" // /x/...
	StyleWindows = "windows"          // X:/...
)

var (
	wslPrefixRe     = regexp.MustCompile(`^/mnt/[a-z]+/`)
	gitBashPrefixRe = regexp.MustCompile(`^/[a-z]+/`)
	windowsDriveRe  = regexp.MustCompile(`^[A-Za-z]+:`)
)

func knownStyle(style string) bool {
	return style == StyleWSL || style == StyleGitBash || style == StyleWindows
}

// Normalize trims outer whitespace, converts backslashes to forward slashes,
// and collapses runs of forward slashes to one.
func Normalize(path string) string {
	if path == "" {
		return path
	}
	p := strings.ReplaceAll(strings.TrimSpace(path), "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// ParseWSL extracts (drive, tail) from a normalized WSL-style path:
// /mnt/x/... yields drive "x" and tail "/...". No match yields an empty
// drive and the input unchanged.
func ParseWSL(norm string) (string, string) {
	if !wslPrefixRe.MatchString(norm) {
		return "", norm
	}
	// norm is "/mnt/<drive>/<rest>"; the prefix regexp guarantees all
	// three separators exist.
	rest := norm[len("/mnt/"):]
	i := strings.IndexByte(rest, '/')
	return rest[:i], rest[i:]
}

// ParseGitBash extracts (drive, tail) from a normalized Git-Bash-style
// path: /x/... yields drive "x" and tail "/...". A path like /mnt/x/...
// parses as drive "mnt" here; WSL paths must be parsed with ParseWSL.
func ParseGitBash(norm string) (string, string) {
	if !gitBashPrefixRe.MatchString(norm) {
		return "", norm
	}
	rest := norm[1:]
	i := strings.IndexByte(rest, '/')
	return rest[:i], rest[i:]
}

// ParseWindows extracts (drive, tail) from a normalized Windows-style path:
// X:/... yields drive "X" and tail "/...", and a bare X: yields tail "/".
func ParseWindows(norm string) (string, string) {
	if !windowsDriveRe.MatchString(norm) {
		return "", norm
	}
	i := strings.IndexByte(norm, ':')
	return norm[:i], "/" + strings.TrimPrefix(norm[i+1:], "/")
}

// Detect reports the style of path, or "" when neither WSL nor Windows
// matches. Git-Bash paths are never detected: /x/... is ambiguous with a
// plain absolute path, so callers must declare that style themselves.
func Detect(path string) string {
	p := Normalize(path)
	if p == "" {
		return ""
	}
	if wslPrefixRe.MatchString(p) {
		return StyleWSL
	}
	if windowsDriveRe.MatchString(p) {
		return StyleWindows
	}
	return ""
}

// splitDrive parses a normalized path according to the declared from style.
func splitDrive(norm, from string) (string, string) {
	switch from {
	case StyleWSL:
		return ParseWSL(norm)
	case StyleGitBash:
		return ParseGitBash(norm)
	case StyleWindows:
		return ParseWindows(norm)
	}
	log.Warn().Str("from", from).Msg("Unknown path style")
	return "", norm
}

// rebuild renders (drive, tail) in the target style. original is returned
// when a drive-less path cannot be expressed as Windows.
func rebuild(drive, tail, to, original string) string {
	switch to {
	case StyleWSL:
		if drive != "" {
			return "/mnt/" + strings.ToLower(drive) + tail
		}
		return tail
	case StyleGitBash:
		if drive != "" {
			return "/" + strings.ToLower(drive) + tail
		}
		return tail
	case StyleWindows:
		if drive != "" {
			return drive + ":" + tail
		}
		if !strings.HasPrefix(tail, "/") {
			return tail
		}
		log.Warn().Str("path", original).Msg("Cannot convert rooted path without a drive to windows style, returning original")
		return original
	}
	log.Warn().Str("to", to).Msg("Unknown target path style, returning original")
	return original
}

// Convert rewrites path from one style to another. Empty paths, same-style
// conversions, and unknown styles pass through unchanged. When the path
// itself is detectably WSL or Windows, the detected style overrides from.
func Convert(path, from, to string) string {
	if path == "" || from == to || !knownStyle(to) {
		return path
	}

	if detected := Detect(path); detected != "" {
		if detected == to {
			return path
		}
		if detected != from {
			log.Warn().
				Str("path", path).
				Str("from", from).
				Str("detected", detected).
				Msg("Path style mismatch, using detected style")
			from = detected
		}
	}

	if !knownStyle(from) {
		log.Warn().Str("path", path).Str("from", from).Msg("Cannot convert path from unknown style, returning original")
		return path
	}

	norm := Normalize(path)
	drive, tail := splitDrive(norm, from)
	return rebuild(drive, tail, to, path)
}
