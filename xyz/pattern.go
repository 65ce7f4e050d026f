// Package xyz stores tiles as individual files addressed by a path pattern
// such as "/srv/tiles/7/{z}/{x}/{y}.png".
package xyz

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/orthotiles/tile"
)

var ErrInvalidPattern = errors.New("orthotiles: invalid file pattern")

// pattern is a file path template with {z}, {x} and {y} placeholders.
type pattern string

func parsePattern(s string) (pattern, error) {
	var missing []string
	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(s, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %q lacks %s", ErrInvalidPattern, s, strings.Join(missing, ", "))
	}
	return pattern(s), nil
}

func (p pattern) path(id tile.ID) string {
	return strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(id.Z), 10),
		"{x}", strconv.FormatUint(uint64(id.X), 10),
		"{y}", strconv.FormatUint(uint64(id.Y), 10),
	).Replace(string(p))
}

// root returns the deepest directory containing every tile path.
func (p pattern) root() string {
	a, b := p.path(tile.ID{}), p.path(tile.ID{X: 1, Y: 1, Z: 1})
	for a != b {
		a, b = filepath.Dir(a), filepath.Dir(b)
	}
	return a
}

// matcher compiles p into a regexp with named z, x and y groups.
func (p pattern) matcher() (*regexp.Regexp, error) {
	expr := regexp.QuoteMeta(filepath.Clean(string(p)))
	for _, name := range []string{"z", "x", "y"} {
		expr = strings.ReplaceAll(expr, regexp.QuoteMeta("{"+name+"}"), `(?P<`+name+`>\d+)`)
	}
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return re, nil
}
