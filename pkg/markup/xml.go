// Package markup 在 markdown 与 XML 风格的提示词之间转换。
package markup

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// RootTag 是转换结果的根元素。
const RootTag = "prompt"

var (
	tagPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	tagSep     = regexp.MustCompile(`[\s\-]+`)
	textEscape = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscape = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

type section struct {
	level int
	tag   string
}

type xmlWriter struct {
	src   []byte
	sb    strings.Builder
	stack []section
}

// ToXML 把 markdown 提示词转换为 XML 结构：标题成为嵌套元素，
// 段落、列表与代码块作为元素内容。空白输入返回空串。
func ToXML(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	src := []byte(markdown)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	w := &xmlWriter{src: src}
	w.sb.WriteString("<" + RootTag + ">\n")
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}
	w.closeTo(0)
	w.sb.WriteString("</" + RootTag + ">")
	return w.sb.String()
}

func (w *xmlWriter) depth() int { return len(w.stack) + 1 }

func (w *xmlWriter) line(depth int, s string) {
	w.sb.WriteString(strings.Repeat("  ", depth))
	w.sb.WriteString(s)
	w.sb.WriteByte('\n')
}

func (w *xmlWriter) textLines(depth int, prefix, s string) {
	for i, l := range strings.Split(s, "\n") {
		if i > 0 {
			prefix = strings.Repeat(" ", len(prefix))
		}
		w.line(depth, prefix+textEscape.Replace(l))
	}
}

func (w *xmlWriter) closeTo(level int) {
	for len(w.stack) > 0 && w.stack[len(w.stack)-1].level >= level {
		top := w.stack[len(w.stack)-1]
		w.stack = w.stack[:len(w.stack)-1]
		w.line(w.depth(), "</"+top.tag+">")
	}
}

func (w *xmlWriter) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Heading:
		w.closeTo(n.Level)
		title := strings.TrimRight(strings.TrimSpace(inlineText(n, w.src)), ":：")
		tag, open := headingTag(title)
		w.line(w.depth(), open)
		w.stack = append(w.stack, section{level: n.Level, tag: tag})
	case *ast.Paragraph, *ast.TextBlock:
		w.textLines(w.depth(), "", inlineText(n, w.src))
	case *ast.List:
		w.list(n, w.depth())
	case *ast.FencedCodeBlock:
		open := "<code>"
		if lang := string(n.Language(w.src)); lang != "" {
			open = `<code lang="` + attrEscape.Replace(lang) + `">`
		}
		w.code(n, open)
	case *ast.CodeBlock:
		w.code(n, "<code>")
	case *ast.Blockquote:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c)
		}
	case *ast.HTMLBlock:
		w.textLines(w.depth(), "", strings.TrimRight(blockLines(n, w.src), "\n"))
	}
}

func (w *xmlWriter) list(l *ast.List, depth int) {
	num := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.List:
				w.list(c, depth+1)
			default:
				prefix := "  "
				if first {
					prefix = marker
				}
				w.textLines(depth, prefix, inlineText(c, w.src))
				first = false
			}
		}
	}
}

func (w *xmlWriter) code(n ast.Node, open string) {
	d := w.depth()
	w.line(d, open)
	body := strings.TrimRight(blockLines(n, w.src), "\n")
	for _, l := range strings.Split(body, "\n") {
		w.sb.WriteString(textEscape.Replace(l))
		w.sb.WriteByte('\n')
	}
	w.line(d, "</code>")
}

// headingTag 把英文标题转为标签名，其他标题使用带 title 属性的 section。
func headingTag(title string) (tag, open string) {
	name := strings.ToLower(tagSep.ReplaceAllString(title, "_"))
	if tagPattern.MatchString(name) {
		return name, "<" + name + ">"
	}
	return "section", `<section title="` + attrEscape.Replace(title) + `">`
}

func blockLines(n ast.Node, src []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return sb.String()
}

// inlineText 拼接节点下的纯文本，丢弃强调等行内标记。
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			sb.Write(c.Segment.Value(src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(c.Value)
		case *ast.AutoLink:
			sb.Write(c.URL(src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
