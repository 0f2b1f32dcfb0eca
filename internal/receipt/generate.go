package receipt

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"regexp/syntax"
	"strings"
	"unicode"
)

// DefaultPattern is the receipt shape used when a context defines none.
const DefaultPattern = `[0-9]{16}`

const (
	// maxUnboundedRepeat caps *, + and {n,} expansions.
	maxUnboundedRepeat = 10
	maxAttempts        = 32
)

// ErrUnsatisfiable is returned when a pattern cannot produce a matching string.
var ErrUnsatisfiable = errors.New("receipt pattern cannot be satisfied")

// Generate returns a random string matching pattern in full.
func Generate(pattern string) (string, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", fmt.Errorf("parse receipt pattern: %w", err)
	}
	re = re.Simplify()

	anchored, err := Compile(pattern)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var b strings.Builder
		if err := emit(&b, re); err != nil {
			return "", err
		}
		candidate := b.String()
		if anchored.MatchString(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsatisfiable, pattern)
}

// Compile returns pattern anchored to match whole strings only.
func Compile(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile receipt pattern: %w", err)
	}
	return re, nil
}

func emit(b *strings.Builder, re *syntax.Regexp) error {
	switch re.Op {
	case syntax.OpNoMatch:
		return ErrUnsatisfiable
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine,
		syntax.OpBeginText, syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return nil
	case syntax.OpLiteral:
		for _, r := range re.Rune {
			if re.Flags&syntax.FoldCase != 0 {
				flip, err := randIntn(2)
				if err != nil {
					return err
				}
				if flip == 1 {
					r = unicode.SimpleFold(r)
				}
			}
			b.WriteRune(r)
		}
		return nil
	case syntax.OpCharClass:
		r, err := pickFromClass(re.Rune)
		if err != nil {
			return err
		}
		b.WriteRune(r)
		return nil
	case syntax.OpAnyChar, syntax.OpAnyCharNotNL:
		r, err := pickFromClass([]rune{'!', '~'})
		if err != nil {
			return err
		}
		b.WriteRune(r)
		return nil
	case syntax.OpCapture:
		return emit(b, re.Sub[0])
	case syntax.OpStar:
		return emitRepeat(b, re.Sub[0], 0, -1)
	case syntax.OpPlus:
		return emitRepeat(b, re.Sub[0], 1, -1)
	case syntax.OpQuest:
		return emitRepeat(b, re.Sub[0], 0, 1)
	case syntax.OpRepeat:
		return emitRepeat(b, re.Sub[0], re.Min, re.Max)
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if err := emit(b, sub); err != nil {
				return err
			}
		}
		return nil
	case syntax.OpAlternate:
		i, err := randIntn(len(re.Sub))
		if err != nil {
			return err
		}
		return emit(b, re.Sub[i])
	default:
		return fmt.Errorf("unsupported receipt pattern operator %v", re.Op)
	}
}

func emitRepeat(b *strings.Builder, sub *syntax.Regexp, lo, hi int) error {
	if hi < 0 {
		hi = lo + maxUnboundedRepeat
	}
	n := lo
	if hi > lo {
		extra, err := randIntn(hi - lo + 1)
		if err != nil {
			return err
		}
		n += extra
	}
	for i := 0; i < n; i++ {
		if err := emit(b, sub); err != nil {
			return err
		}
	}
	return nil
}

// pickFromClass draws uniformly from a class given as inclusive rune pairs.
func pickFromClass(ranges []rune) (rune, error) {
	var total int64
	for i := 0; i+1 < len(ranges); i += 2 {
		total += int64(ranges[i+1]-ranges[i]) + 1
	}
	if total == 0 {
		return 0, ErrUnsatisfiable
	}
	n, err := rand.Int(rand.Reader, big.NewInt(total))
	if err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	offset := n.Int64()
	for i := 0; i+1 < len(ranges); i += 2 {
		span := int64(ranges[i+1]-ranges[i]) + 1
		if offset < span {
			return ranges[i] + rune(offset), nil
		}
		offset -= span
	}
	return 0, ErrUnsatisfiable
}

func randIntn(n int) (int, error) {
	if n <= 1 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	return int(v.Int64()), nil
}
