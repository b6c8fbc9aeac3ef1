// Package sanitize 清理模型输出中的格式残留（代码围栏、开场白、结束语）。
package sanitize

import (
	"errors"
	"regexp"
	"strings"
)

// ErrParse 表示列表产物无法从原始文本中解析出任何条目。
var ErrParse = errors.New("no list items found")

var (
	fenceLine = regexp.MustCompile("^```[\\w+-]*$")

	preambles = []*regexp.Regexp{
		regexp.MustCompile(`^(以下是|下面是|这是|好的[，,]?).{0,60}[：:]$`),
		regexp.MustCompile(`(?i)^(here is|here's|here are|below is)\b.{0,80}[:：]$`),
		regexp.MustCompile(`(?i)^(sure|certainly|of course|okay)[,!.]?.{0,80}[:：]$`),
	}
	postambles = []*regexp.Regexp{
		regexp.MustCompile(`^(希望|如需|如果你需要|如果您需要|如有).{0,60}(帮助|调整|修改|问题|优化).{0,20}$`),
		regexp.MustCompile(`(?i)^(let me know|hope this helps|feel free to|i hope)\b.*$`),
	}
)

// Clean 去除首尾代码围栏与已知的开场白/结束语。
// 重复执行直到结果不再变化，因此 Clean(Clean(x)) == Clean(x)。
func Clean(raw string) string {
	s := raw
	for {
		next := step(s)
		if next == s {
			return s
		}
		s = next
	}
}

// step 执行一轮清理，每一轮要么缩短文本，要么原样返回。
func step(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}

	lines := strings.Split(s, "\n")
	first := strings.TrimSpace(lines[0])
	if fenceLine.MatchString(first) {
		if body, ok := unwrapFence(lines); ok {
			return body
		}
	}
	if len(lines) > 1 && matchesAny(preambles, first) {
		return strings.Join(lines[1:], "\n")
	}

	if len(lines) > 1 {
		if matchesAny(postambles, strings.TrimSpace(lines[len(lines)-1])) {
			return strings.Join(lines[:len(lines)-1], "\n")
		}
	} else if matchesAny(preambles, first) {
		return ""
	}
	return s
}

// unwrapFence 去掉包裹整段文本的代码围栏。首行是围栏时，只有两种情况算作包裹：
// 其后再没有围栏行（流式输出尚未闭合），或末行是 ``` 且中间的围栏行成对出现。
// 正文自带的代码块因此保持完整。
func unwrapFence(lines []string) (string, bool) {
	if len(lines) == 1 {
		return "", true
	}
	inner := 0
	for _, l := range lines[1:] {
		if fenceLine.MatchString(strings.TrimSpace(l)) {
			inner++
		}
	}
	if inner == 0 {
		return strings.Join(lines[1:], "\n"), true
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "```" && (inner-1)%2 == 0 {
		return strings.Join(lines[1:len(lines)-1], "\n"), true
	}
	return "", false
}

func matchesAny(patterns []*regexp.Regexp, line string) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// SplitList 按行拆分列表产物，去掉行首的 "*"/"-" 列表符号并丢弃空行。
func SplitList(raw string) ([]string, error) {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		item := stripBullet(strings.TrimSpace(line))
		if item == "" {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 && strings.TrimSpace(raw) != "" {
		return nil, ErrParse
	}
	return items, nil
}

// ParseList 与 SplitList 相同，但解析失败时退化为单条目列表，从不返回错误。
func ParseList(raw string) []string {
	items, err := SplitList(raw)
	if err != nil {
		return []string{strings.TrimSpace(raw)}
	}
	return items
}

func stripBullet(line string) string {
	if line == "" {
		return line
	}
	switch {
	case strings.HasPrefix(line, "**"):
		// 加粗文本不是列表符号
		return line
	case line[0] == '*' || line[0] == '-':
		return strings.TrimSpace(line[1:])
	}
	return line
}
