package sources

import (
	"context"
	"strings"

	"go.uber.org/zap"

	jsdaperr "github.com/jsdap/jsdap/internal/errors"
	"github.com/jsdap/jsdap/internal/sourcemaps"
)

// Minification heuristics: a source is worth formatting when it packs
// statements into very long lines.
const (
	minifiedLineLength       = 1000
	minifiedSingleLineLength = 200
)

// PrettyPrintResult is the synthetic formatted source plus the map that
// relates it to the minified original.
type PrettyPrintResult struct {
	Source *Source
	Map    *sourcemaps.SourceMap
}

// CanPrettyPrint reports whether a source looks minified enough to be
// worth formatting.
func (r *Registry) CanPrettyPrint(ctx context.Context, src *Source) bool {
	if src == nil || src.fromMap {
		return false
	}
	content, err := src.Content(ctx)
	if err != nil || content == "" {
		return false
	}

	lines := strings.Split(content, "\n")
	if len(lines) == 1 {
		return len(lines[0]) > minifiedSingleLineLength
	}
	for _, line := range lines {
		if len(line) > minifiedLineLength {
			return true
		}
	}
	return false
}

// PrettyPrint generates a formatted rendition of a minified source plus
// a synthetic source map, registered in place of any existing map so at
// most one pretty map is active per source. Printing an already-printed
// source returns the existing result without re-running the formatter.
func (r *Registry) PrettyPrint(ctx context.Context, src *Source) (*PrettyPrintResult, error) {
	r.mu.Lock()
	if res := r.prettyPrinted[src.reference]; res != nil {
		r.mu.Unlock()
		return res, nil
	}
	r.mu.Unlock()

	content, err := src.Content(ctx)
	if err != nil {
		return nil, jsdaperr.PrettyPrintFailed(src.url, err)
	}

	formatted, pairs := formatJS(content)
	prettyURL := src.url + "-pretty.js"
	mapURL := src.url + "@pretty.map"
	m := sourcemaps.FromPairs(mapURL, prettyURL, pairs, formatted)

	r.mu.Lock()
	if res := r.prettyPrinted[src.reference]; res != nil {
		// Lost the race to another print of the same source.
		r.mu.Unlock()
		return res, nil
	}

	// The synthetic map supersedes whatever map the source carried.
	r.detachCompiledLocked(src)

	md := &MapData{
		url:      mapURL,
		compiled: map[int]*Source{src.reference: src},
		loaded:   make(chan struct{}),
		m:        m,
	}
	close(md.loaded)
	r.maps[mapURL] = md
	src.sourceMapURL = mapURL
	r.attachMappedSourceLocked(md, src, prettyURL, prettyURL)

	mapped := r.mappedByURL[prettyURL]
	res := &PrettyPrintResult{Source: mapped, Map: m}
	r.prettyPrinted[src.reference] = res
	listeners := append([]func(*Source){}, r.mapListeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(src)
	}

	r.logger.Info("pretty printed source",
		zap.String("url", src.url),
		zap.Int("lines", strings.Count(formatted, "\n")+1))
	return res, nil
}

// formatJS reindents minified JavaScript at statement and block
// boundaries, emitting a mapping pair for every formatted line start.
// It is string/comment/template aware but deliberately not a parser:
// positions only need to be good enough for breakpoint round trips.
func formatJS(content string) (string, []sourcemaps.MappingPair) {
	var out strings.Builder
	var pairs []sourcemaps.MappingPair

	const indentUnit = "  "
	depth := 0
	inLine, inCol := 0, 0
	outLine, outCol := 0, 0
	atLineStart := true

	writeByte := func(b byte) {
		out.WriteByte(b)
		if b == '\n' {
			outLine++
			outCol = 0
			atLineStart = true
		} else {
			outCol++
		}
	}

	newline := func() {
		if !atLineStart {
			writeByte('\n')
		}
	}

	emit := func(b byte) {
		if atLineStart {
			if b == ' ' || b == '\t' {
				return
			}
			for i := 0; i < depth; i++ {
				for j := 0; j < len(indentUnit); j++ {
					writeByte(indentUnit[j])
				}
			}
			atLineStart = false
			pairs = append(pairs, sourcemaps.MappingPair{
				GenLine: inLine, GenCol: inCol,
				SrcLine: outLine, SrcCol: outCol,
			})
		}
		writeByte(b)
	}

	var quote byte
	inString := false
	inLineComment := false
	inBlockComment := false

	for i := 0; i < len(content); i++ {
		c := content[i]

		advance := func() {
			if c == '\n' {
				inLine++
				inCol = 0
			} else {
				inCol++
			}
		}

		switch {
		case inLineComment:
			emit(c)
			if c == '\n' {
				inLineComment = false
			}

		case inBlockComment:
			emit(c)
			if c == '/' && i > 0 && content[i-1] == '*' {
				inBlockComment = false
			}

		case inString:
			emit(c)
			if c == '\\' && i+1 < len(content) {
				i++
				emit(content[i])
				inCol++
			} else if c == quote {
				inString = false
			}

		default:
			switch c {
			case '"', '\'', '`':
				inString = true
				quote = c
				emit(c)
			case '/':
				if i+1 < len(content) && content[i+1] == '/' {
					inLineComment = true
				} else if i+1 < len(content) && content[i+1] == '*' {
					inBlockComment = true
				}
				emit(c)
			case '{':
				emit(c)
				depth++
				advance()
				newline()
				continue
			case '}':
				if depth > 0 {
					depth--
				}
				newline()
				emit(c)
				// Keep "} else", "} catch" and similar on one line only
				// when the input already did; a following statement gets
				// its own line.
				if i+1 < len(content) && content[i+1] != ')' && content[i+1] != ';' && content[i+1] != ',' && content[i+1] != '}' {
					advance()
					newline()
					continue
				}
			case ';':
				emit(c)
				advance()
				newline()
				continue
			case '\n':
				emit(c)
			default:
				emit(c)
			}
		}
		advance()
	}
	newline()

	return out.String(), pairs
}
