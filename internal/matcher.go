package internal

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Pattern matches a path that should be left out of fingerprinting.
type Pattern interface {
	Match(string) bool
	Desc() string // for logs
}

type RegexPattern struct{ re *regexp.Regexp }

func (p *RegexPattern) Match(s string) bool { return p.re.MatchString(s) }
func (p *RegexPattern) Desc() string        { return "re:" + p.re.String() }

type PlainPattern struct {
	s           string
	insensitive bool
}

func (p *PlainPattern) Match(s string) bool {
	if p.insensitive {
		return strings.Contains(strings.ToLower(s), p.s)
	}
	return strings.Contains(s, p.s)
}

func (p *PlainPattern) Desc() string {
	if p.insensitive {
		return "plain:i:" + p.s
	}
	return p.s
}

// LoadPatterns reads an ignore file.
// Lines:
//
//	vendor/
//	plain:i:/Generated/
//	re:_test\.go$
//	# comment
func LoadPatterns(path string) ([]Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ps []Pattern
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		switch {
		case strings.HasPrefix(line, "re:"):
			re, err := regexp.Compile(line[3:])
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %w", line, err)
			}
			ps = append(ps, &RegexPattern{re: re})
		case strings.HasPrefix(line, "plain:i:"):
			ps = append(ps, &PlainPattern{s: strings.ToLower(line[8:]), insensitive: true})
		default:
			ps = append(ps, &PlainPattern{s: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	logrus.Debugf("Loaded %d ignore patterns", len(ps))
	return ps, nil
}

// matchAny returns the first pattern matching s.
func matchAny(ps []Pattern, s string) (Pattern, bool) {
	for _, p := range ps {
		if p.Match(s) {
			return p, true
		}
	}
	return nil, false
}
