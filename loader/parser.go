package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlsplit"
)

var (
	filenamePattern   = regexp.MustCompile(`^(\d+)_([A-Za-z0-9][A-Za-z0-9_\-]*)\.sql$`)
	annotationPattern = regexp.MustCompile(`^\s*--\s*@([A-Za-z_]+)\s*:?\s*(.*?)\s*$`)
	markerPattern     = regexp.MustCompile(`(?i)^\s*--\s*\+migrate\s+(up|down)\b`)
)

// Metadata holds the annotations of a migration file.
type Metadata struct {
	Description       string
	Author            string
	Dependencies      []string
	Tags              []string
	EstimatedDuration time.Duration
	RequiresDowntime  bool
	BackupRequired    bool

	// Unknown lists annotation keys that were not recognized.
	Unknown []string
}

// ParseFilename extracts the version and name from "<version>_<name>.sql".
func ParseFilename(filename string) (version, name string, err error) {
	match := filenamePattern.FindStringSubmatch(filename)
	if match == nil {
		return "", "", fmt.Errorf("filename must match <version>_<name>.sql")
	}
	return match[1], match[2], nil
}

// ParseMetadata reads "-- @key: value" annotations from a migration definition.
// Only the leading comment block of each section is scanned; annotations
// after the first statement of a section are ignored.
func ParseMetadata(content string) (Metadata, error) {
	var md Metadata

	header := true
	for _, line := range strings.Split(content, "\n") {
		if markerPattern.MatchString(line) {
			header = true
			continue
		}
		if !header {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			header = false
			continue
		}
		match := annotationPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		key := strings.ToLower(match[1])
		value := match[2]

		switch key {
		case "description":
			md.Description = value
		case "author":
			md.Author = value
		case "depends", "depends_on", "dependencies":
			md.Dependencies = appendUnique(md.Dependencies, splitList(value)...)
		case "tags", "tag":
			md.Tags = appendUnique(md.Tags, splitList(value)...)
		case "estimated_duration", "duration":
			d, err := parseDuration(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("invalid @%s %q: %w", key, value, err)
			}
			md.EstimatedDuration = d
		case "requires_downtime", "downtime":
			b, err := parseBool(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("invalid @%s %q: %w", key, value, err)
			}
			md.RequiresDowntime = b
		case "backup_required", "backup":
			b, err := parseBool(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("invalid @%s %q: %w", key, value, err)
			}
			md.BackupRequired = b
		default:
			md.Unknown = append(md.Unknown, key)
		}
	}

	return md, nil
}

// SplitDirections separates the up and down sections of a definition.
// Without an explicit up marker, everything before the down marker is the up section.
func SplitDirections(content string) (up, down string, err error) {
	var (
		upLines, downLines []string
		section            = "up"
		sawUp, sawDown     bool
	)

	for _, line := range strings.Split(content, "\n") {
		match := markerPattern.FindStringSubmatch(line)
		if match == nil {
			switch section {
			case "up":
				upLines = append(upLines, line)
			case "down":
				downLines = append(downLines, line)
			}
			continue
		}

		switch strings.ToLower(match[1]) {
		case "up":
			if sawUp {
				return "", "", fmt.Errorf("duplicate up marker")
			}
			if sawDown {
				return "", "", fmt.Errorf("up marker must precede down marker")
			}
			sawUp = true
			// Anything before an explicit up marker is header.
			upLines = upLines[:0]
			section = "up"
		case "down":
			if sawDown {
				return "", "", fmt.Errorf("duplicate down marker")
			}
			sawDown = true
			section = "down"
		}
	}

	up = strings.TrimSpace(strings.Join(upLines, "\n"))
	down = strings.TrimSpace(strings.Join(downLines, "\n"))

	if len(sqlsplit.Split(up)) == 0 {
		return "", "", fmt.Errorf("up section is empty")
	}
	if len(sqlsplit.Split(down)) == 0 {
		down = ""
	}
	return up, down, nil
}

// Checksum returns the hex SHA-256 of a raw definition.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Parse builds a Migration from a file name and its raw content.
func Parse(filename string, content []byte) (migrator.Migration, Metadata, error) {
	version, name, err := ParseFilename(filename)
	if err != nil {
		return migrator.Migration{}, Metadata{}, err
	}

	text := string(content)
	md, err := ParseMetadata(text)
	if err != nil {
		return migrator.Migration{}, Metadata{}, err
	}

	up, down, err := SplitDirections(text)
	if err != nil {
		return migrator.Migration{}, Metadata{}, err
	}

	m := migrator.Migration{
		ID:                version + "_" + name,
		Version:           version,
		Name:              name,
		Description:       md.Description,
		Filename:          filename,
		Checksum:          Checksum(content),
		Dependencies:      md.Dependencies,
		UpSQL:             up,
		DownSQL:           down,
		Tags:              md.Tags,
		Author:            md.Author,
		EstimatedDuration: md.EstimatedDuration,
		RequiresDowntime:  md.RequiresDowntime,
		BackupRequired:    md.BackupRequired,
	}
	return m, md, nil
}

func splitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		dup := false
		for _, existing := range dst {
			if existing == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("must not be negative")
		}
		if int64(secs) > maxDurationSeconds {
			return 0, fmt.Errorf("must not exceed %d seconds", maxDurationSeconds)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "", "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected a boolean")
}
