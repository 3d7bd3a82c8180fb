package volume

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Namer derives the file name of part index from the primary file name.
// It returns "" when no name can be derived.
type Namer func(primary string, index int) string

var (
	trailingDigits = regexp.MustCompile(`^(.*?)(\d+)$`)
	partSuffix     = regexp.MustCompile(`(?i)^(.*\.part)(\d+)$`)
)

// TrailingNumber replaces the digits at the end of the base name (before the
// extension) with index, zero-padded to width: "pack000.bin" -> "pack001.bin".
func TrailingNumber(width int) Namer {
	return func(primary string, index int) string {
		dir, stem, ext := split(primary)
		m := trailingDigits.FindStringSubmatch(stem)
		if m == nil {
			return ""
		}
		return filepath.Join(dir, m[1]+pad(index, width)+ext)
	}
}

// ReplaceToken replaces the last occurrence of token in the base name with
// index, zero-padded to width: "pak01_dir.vpk" with "dir" -> "pak01_000.vpk".
func ReplaceToken(token string, width int) Namer {
	return func(primary string, index int) string {
		dir, stem, ext := split(primary)
		i := strings.LastIndex(stem, token)
		if token == "" || i < 0 {
			return ""
		}
		return filepath.Join(dir, stem[:i]+pad(index, width)+stem[i+len(token):]+ext)
	}
}

// PartSuffix addresses ".partN" archives starting at part 1 for index 0:
// "game.part1.rar" -> "game.part2.rar" for index 1. The digit width of the
// primary is preserved.
func PartSuffix() Namer {
	return func(primary string, index int) string {
		dir, stem, ext := split(primary)
		m := partSuffix.FindStringSubmatch(stem)
		if m == nil {
			return ""
		}
		return filepath.Join(dir, m[1]+pad(index+1, len(m[2]))+ext)
	}
}

// NumberedExtension replaces the extension with the 1-based part number,
// zero-padded to width: "disc.001" -> "disc.002" for index 1.
func NumberedExtension(width int) Namer {
	return func(primary string, index int) string {
		dir, stem, _ := split(primary)
		return filepath.Join(dir, stem+"."+pad(index+1, width))
	}
}

// Sequence names parts from an explicit list, relative to the primary's
// directory. Formats that record their part names in the directory use it.
func Sequence(names ...string) Namer {
	return func(primary string, index int) string {
		if index < 0 || index >= len(names) {
			return ""
		}
		return filepath.Join(filepath.Dir(primary), names[index])
	}
}

func split(primary string) (dir, stem, ext string) {
	dir = filepath.Dir(primary)
	base := filepath.Base(primary)
	ext = filepath.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	return dir, stem, ext
}

func pad(n, width int) string {
	if width <= 0 {
		return strconv.Itoa(n)
	}
	return fmt.Sprintf("%0*d", width, n)
}
