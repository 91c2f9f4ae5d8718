// Tag scanning for the model-output tag language (§6 "Tag language inside
// model output"). This is a small incremental state-machine scanner over an
// accumulating text buffer, not a regex match against the whole stream, so
// that a tag split across two model chunks is handled correctly (§9
// "Incremental tag parsing over a streamed text").
package stream

import (
	"fmt"
	"strings"
)

// OpKind identifies the tagged union member of a FileOperation (§3).
type OpKind string

const (
	OpWrite          OpKind = "write"
	OpRename         OpKind = "rename"
	OpDelete         OpKind = "delete"
	OpSearchReplace  OpKind = "search_replace"
	OpAddDependency  OpKind = "add_dependency"
	OpExecuteSQL     OpKind = "execute_sql"
)

// FileOperation is the transient, per-stream tagged union from §3.
type FileOperation struct {
	Kind OpKind

	// Write / SearchReplace
	Path    string
	Content string

	// Rename
	From string
	To   string

	// SearchReplace
	Find    string
	Replace string

	// AddDependency
	Packages []string
	DepType  string // "" (node) or "pip"

	// ExecuteSQL
	SQL string
}

// selfClosingTags are the tags that carry no body: their header alone
// completes the operation, with or without a trailing "/>".
var selfClosingTags = map[string]bool{
	"dyad-rename": true,
	"dyad-delete": true,
}

// knownTags lists every tag name the parser recognizes, including the
// out-of-scope hooks that are parsed but not executed (§6).
var knownTags = map[string]bool{
	"dyad-write":          true,
	"dyad-rename":         true,
	"dyad-delete":         true,
	"dyad-search-replace": true,
	"dyad-add-dependency": true,
	"dyad-execute-sql":    true,
}

// Parser incrementally scans accumulated model text for well-formed tags.
// Feed is called with the full text accumulated so far each time new text
// arrives; the parser tracks how much it has already scanned so tags are
// only ever emitted once, and partial tags at the end of the buffer are
// left for the next call.
type Parser struct {
	scanned int // byte offset into the cumulative text already scanned for tag boundaries
	pending []FileOperation
}

// NewParser returns a Parser ready to scan from the start of a stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed scans any newly accumulated text (from the last scanned offset to
// the end of fullText) for complete tags, appending each recognized one to
// the pending queue. It advances the scanned offset past every tag it
// fully consumes; callers read fullText directly for the chat:chunk prose.
func (p *Parser) Feed(fullText string) {
	for {
		rest := fullText[p.scanned:]
		start := strings.IndexByte(rest, '<')
		if start == -1 {
			return
		}
		tagStart := p.scanned + start
		name, isClose, selfClose, headerEnd, ok := parseTagHeader(fullText, tagStart)
		if !ok {
			// Incomplete "<...": wait for more text before deciding.
			return
		}
		if !knownTags[name] {
			// Not a tag we recognize; treat '<' as ordinary text and continue
			// scanning past it.
			p.scanned = tagStart + 1
			continue
		}
		if isClose {
			// A stray closing tag with no matching open; skip it.
			p.scanned = headerEnd
			continue
		}

		attrs := parseAttrs(fullText[tagStart:headerEnd])

		if selfClose || selfClosingTags[name] {
			op, err := buildSelfClosingOp(name, attrs)
			if err == nil {
				p.pending = append(p.pending, op)
			}
			p.scanned = headerEnd
			continue
		}

		closeTag := "</" + name + ">"
		closeIdx := strings.Index(fullText[headerEnd:], closeTag)
		if closeIdx == -1 {
			// Body not fully received yet; stop here and retry on next Feed.
			return
		}
		bodyStart := headerEnd
		bodyEnd := headerEnd + closeIdx
		body := fullText[bodyStart:bodyEnd]

		op, err := buildBodiedOp(name, attrs, body)
		if err == nil {
			p.pending = append(p.pending, op)
		}
		p.scanned = bodyEnd + len(closeTag)
	}
}

// Pending returns and clears the queue of operations parsed so far.
func (p *Parser) Pending() []FileOperation {
	ops := p.pending
	p.pending = nil
	return ops
}

// Unterminated reports whether the buffer ends mid-tag (an opening tag with
// no matching close before stream end), per §6's "reject unterminated tags
// at stream end by emitting an error event".
func (p *Parser) Unterminated(fullText string) bool {
	rest := fullText[p.scanned:]
	idx := strings.IndexByte(rest, '<')
	if idx == -1 {
		return false
	}
	name, _, _, _, ok := parseTagHeader(fullText, p.scanned+idx)
	if !ok {
		return knownTagPrefix(rest[idx:])
	}
	return knownTags[name]
}

// knownTagPrefix reports whether the still-incomplete fragment looks like
// the start of one of our known tag names, to avoid false-positives on
// ordinary '<' characters in prose (e.g. "a < b").
func knownTagPrefix(frag string) bool {
	for name := range knownTags {
		p := "<" + name
		if len(frag) <= len(p) && strings.HasPrefix(p, frag) {
			return true
		}
		if strings.HasPrefix(frag, p) {
			return true
		}
	}
	return false
}

// parseTagHeader parses "<name attr=\"v\" ...>" or "<name .../>" or
// "</name>" starting at fullText[start]. Returns the tag name, whether it is
// a closing tag, whether it is self-closing, the index just past '>', and
// whether a complete header was found.
func parseTagHeader(fullText string, start int) (name string, isClose, selfClose bool, headerEnd int, ok bool) {
	i := start + 1
	if i < len(fullText) && fullText[i] == '/' {
		isClose = true
		i++
	}
	nameStart := i
	for i < len(fullText) && isNameChar(fullText[i]) {
		i++
	}
	name = fullText[nameStart:i]
	if name == "" {
		return "", false, false, 0, false
	}
	gt := strings.IndexByte(fullText[i:], '>')
	if gt == -1 {
		return "", false, false, 0, false
	}
	headerText := fullText[i : i+gt]
	selfClose = strings.HasSuffix(strings.TrimSpace(headerText), "/")
	return name, isClose, selfClose, i + gt + 1, true
}

func isNameChar(b byte) bool {
	return b == '-' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// parseAttrs extracts name="value" pairs from a tag header fragment of the
// form "<tagname attr=\"v\" attr2=\"v2\" />" or "<tagname attr=\"v\">".
func parseAttrs(header string) map[string]string {
	attrs := map[string]string{}
	i := 1 // skip leading '<'
	if i < len(header) && header[i] == '/' {
		i++
	}
	for i < len(header) && isNameChar(header[i]) {
		i++
	}
	for i < len(header) {
		for i < len(header) && (header[i] == ' ' || header[i] == '\t' || header[i] == '\n' || header[i] == '\r') {
			i++
		}
		if i >= len(header) || header[i] == '>' || header[i] == '/' {
			break
		}
		nameStart := i
		for i < len(header) && header[i] != '=' && header[i] != '>' && header[i] != ' ' {
			i++
		}
		if i >= len(header) || header[i] != '=' {
			break
		}
		attrName := header[nameStart:i]
		i++ // skip '='
		if i >= len(header) || header[i] != '"' {
			break
		}
		i++
		valStart := i
		for i < len(header) && header[i] != '"' {
			i++
		}
		if i >= len(header) {
			break
		}
		attrs[attrName] = header[valStart:i]
		i++
	}
	return attrs
}

func buildSelfClosingOp(name string, attrs map[string]string) (FileOperation, error) {
	switch name {
	case "dyad-rename":
		return FileOperation{Kind: OpRename, From: attrs["from"], To: attrs["to"]}, nil
	case "dyad-delete":
		return FileOperation{Kind: OpDelete, Path: attrs["path"]}, nil
	case "dyad-add-dependency":
		return FileOperation{
			Kind:     OpAddDependency,
			Packages: splitPackages(attrs["packages"]),
			DepType:  attrs["type"],
		}, nil
	}
	return FileOperation{}, fmt.Errorf("stream: unsupported self-closing tag %q", name)
}

func buildBodiedOp(name string, attrs map[string]string, body string) (FileOperation, error) {
	switch name {
	case "dyad-write":
		return FileOperation{Kind: OpWrite, Path: attrs["path"], Content: stripCodeFence(body)}, nil
	case "dyad-search-replace":
		find, replace, ok := strings.Cut(body, "|||")
		if !ok {
			return FileOperation{}, fmt.Errorf("stream: dyad-search-replace missing ||| delimiter")
		}
		return FileOperation{Kind: OpSearchReplace, Path: attrs["path"], Find: find, Replace: replace}, nil
	case "dyad-add-dependency":
		return FileOperation{
			Kind:     OpAddDependency,
			Packages: splitPackages(attrs["packages"]),
			DepType:  attrs["type"],
		}, nil
	case "dyad-execute-sql":
		return FileOperation{Kind: OpExecuteSQL, SQL: body}, nil
	}
	return FileOperation{}, fmt.Errorf("stream: unsupported tag %q", name)
}

func splitPackages(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// stripCodeFence removes a leading/trailing markdown code fence line
// (``` or ```lang) immediately inside a dyad-write body, per §6's
// "tolerate code-fence delimiters immediately inside <dyad-write> bodies".
func stripCodeFence(body string) string {
	trimmed := strings.TrimPrefix(body, "\n")
	lines := strings.SplitN(trimmed, "\n", 2)
	if len(lines) == 2 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		rest := lines[1]
		if idx := strings.LastIndex(rest, "```"); idx != -1 {
			tail := strings.TrimSpace(rest[idx+3:])
			if tail == "" {
				return rest[:idx]
			}
		}
		return rest
	}
	return body
}
