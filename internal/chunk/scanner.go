package chunk

import (
	"regexp"
	"strings"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockFence
	blockListItem
	blockTable
)

// block is one scanned unit of markdown with its section context.
type block struct {
	kind blockKind
	text string
	// level is the heading level for blockHeading, 0 otherwise.
	level int
	// heading is the nearest enclosing heading at the block's start.
	heading string
	// sectionPath lists ancestor headings, root first.
	sectionPath []string
	// pageNumber is carried through from pre-segmented input; 0 for markdown.
	pageNumber int
}

// atomic blocks (fences, tables) are never split at sentence boundaries.
func (b *block) atomic() bool {
	return b.kind == blockFence || b.kind == blockTable
}

var (
	headingPattern  = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	listItemPattern = regexp.MustCompile(`^\s*([-*+]|\d+\.)\s+`)
)

// scanMarkdown splits markdown text into blocks, tracking heading levels
// in a stack so each block carries its section path.
func scanMarkdown(text string) []block {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var blocks []block
	stack := make([]string, 6)
	depth := 0

	var para []string
	flushPara := func() {
		if len(para) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(para, "\n"))
		para = para[:0]
		if joined == "" {
			return
		}
		blocks = append(blocks, block{
			kind:        blockParagraph,
			text:        joined,
			heading:     nearestHeading(stack, depth),
			sectionPath: pathCopy(stack, depth),
		})
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			flushPara()

		case headingPattern.MatchString(trimmed):
			flushPara()
			m := headingPattern.FindStringSubmatch(trimmed)
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			stack[level-1] = title
			for j := level; j < 6; j++ {
				stack[j] = ""
			}
			depth = level
			blocks = append(blocks, block{
				kind:        blockHeading,
				text:        trimmed,
				level:       level,
				heading:     title,
				sectionPath: pathCopy(stack, depth),
			})

		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			flushPara()
			fence := trimmed[:3]
			var fenceLines []string
			fenceLines = append(fenceLines, line)
			for i++; i < len(lines); i++ {
				fenceLines = append(fenceLines, lines[i])
				if strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
					break
				}
			}
			blocks = append(blocks, block{
				kind:        blockFence,
				text:        strings.Join(fenceLines, "\n"),
				heading:     nearestHeading(stack, depth),
				sectionPath: pathCopy(stack, depth),
			})

		case strings.HasPrefix(trimmed, "|"):
			flushPara()
			var tableLines []string
			tableLines = append(tableLines, line)
			for i+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i+1]), "|") {
				i++
				tableLines = append(tableLines, lines[i])
			}
			blocks = append(blocks, block{
				kind:        blockTable,
				text:        strings.Join(tableLines, "\n"),
				heading:     nearestHeading(stack, depth),
				sectionPath: pathCopy(stack, depth),
			})

		case listItemPattern.MatchString(line):
			flushPara()
			blocks = append(blocks, block{
				kind:        blockListItem,
				text:        trimmed,
				heading:     nearestHeading(stack, depth),
				sectionPath: pathCopy(stack, depth),
			})

		default:
			para = append(para, line)
		}
	}
	flushPara()

	return blocks
}

// blocksFromInput converts pre-segmented blocks to scanner blocks.
// A block with only a heading acts like a markdown heading at level 1
// below the current path end.
func blocksFromInput(input []Block) []block {
	var blocks []block
	heading := ""
	for _, in := range input {
		if in.Heading != "" {
			heading = in.Heading
		}
		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}
		b := block{
			kind:       blockParagraph,
			text:       text,
			heading:    heading,
			pageNumber: in.PageNumber,
		}
		if heading != "" {
			b.sectionPath = []string{heading}
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func nearestHeading(stack []string, depth int) string {
	for i := depth - 1; i >= 0; i-- {
		if stack[i] != "" {
			return stack[i]
		}
	}
	return ""
}

func pathCopy(stack []string, depth int) []string {
	var path []string
	for i := 0; i < depth; i++ {
		if stack[i] != "" {
			path = append(path, stack[i])
		}
	}
	return path
}
