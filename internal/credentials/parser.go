package credentials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// NetscapeCookie represents a single cookie from Netscape format
type NetscapeCookie struct {
	Domain     string
	Flag       string
	Path       string
	Secure     bool
	HTTPOnly   bool
	Expiration int64 // Unix timestamp, 0 for session cookies
	Name       string
	Value      string
}

// httpOnlyPrefix marks HttpOnly cookies in files written by curl and browsers
const httpOnlyPrefix = "#HttpOnly_"

// CookieParser handles parsing of Netscape cookie format files
type CookieParser struct{}

// NewCookieParser creates a new cookie parser
func NewCookieParser() *CookieParser {
	return &CookieParser{}
}

// ParseFile parses a Netscape format cookie file
func (p *CookieParser) ParseFile(path string) ([]NetscapeCookie, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cookie file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse reads Netscape cookies.
// Format: domain	flag	path	secure	expiration	name	value
func (p *CookieParser) Parse(r io.Reader) ([]NetscapeCookie, error) {
	var cookies []NetscapeCookie
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		}

		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			// Try space-separated as fallback
			fields = strings.Fields(line)
			if len(fields) < 7 {
				return nil, fmt.Errorf("line %d: invalid format (expected 7 fields, got %d)", lineNum, len(fields))
			}
		}

		expiration, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid expiration timestamp: %w", lineNum, err)
		}

		// Clean cookie value - remove surrounding quotes if present
		value := fields[6]
		if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
			value = strings.Trim(value, "\"")
		}

		cookies = append(cookies, NetscapeCookie{
			Domain:     fields[0],
			Flag:       fields[1],
			Path:       fields[2],
			Secure:     strings.EqualFold(fields[3], "TRUE"),
			HTTPOnly:   httpOnly,
			Expiration: expiration,
			Name:       fields[5],
			Value:      value,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}

	if len(cookies) == 0 {
		return nil, fmt.Errorf("no valid cookies found in file")
	}

	return cookies, nil
}

// Write serializes cookies in Netscape format
func (p *CookieParser) Write(w io.Writer, cookies []NetscapeCookie) error {
	if _, err := io.WriteString(w, "# Netscape HTTP Cookie File\n"); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, cookie := range cookies {
		secure := "FALSE"
		if cookie.Secure {
			secure = "TRUE"
		}
		prefix := ""
		if cookie.HTTPOnly {
			prefix = httpOnlyPrefix
		}

		line := fmt.Sprintf("%s%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			prefix,
			cookie.Domain,
			cookie.Flag,
			cookie.Path,
			secure,
			cookie.Expiration,
			cookie.Name,
			cookie.Value,
		)

		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("write cookie: %w", err)
		}
	}

	return nil
}

// FindEarliestExpiration returns the earliest non-session expiration
func (p *CookieParser) FindEarliestExpiration(cookies []NetscapeCookie) time.Time {
	var earliest int64
	for _, cookie := range cookies {
		if cookie.Expiration == 0 {
			continue
		}
		if earliest == 0 || cookie.Expiration < earliest {
			earliest = cookie.Expiration
		}
	}

	if earliest == 0 {
		return time.Time{}
	}
	return time.Unix(earliest, 0)
}

// DetectPlatform attempts to detect the platform from cookie domains
func (p *CookieParser) DetectPlatform(cookies []NetscapeCookie) string {
	counts := make(map[string]int)
	for _, cookie := range cookies {
		domain := strings.TrimPrefix(cookie.Domain, ".")
		for platform, cfg := range platformCookies {
			if domain == cfg.Domain || strings.HasSuffix(domain, "."+cfg.Domain) {
				counts[platform]++
			}
		}
	}

	// Find most common matching platform
	maxCount := 0
	detected := ""
	for platform, count := range counts {
		if count > maxCount || (count == maxCount && platform < detected) {
			maxCount = count
			detected = platform
		}
	}

	return detected
}
