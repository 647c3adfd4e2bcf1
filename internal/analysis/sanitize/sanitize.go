package sanitize

import "regexp"

var (
	// emojiLiteral 匹配 CHZZK 表情占位符，例如 {:d_47:}。
	emojiLiteral = regexp.MustCompile(`\{:[^{}:\s]+:\}`)

	// emojiUnicode 覆盖图形符号、杂项符号、箭头、变体选择符、零宽连接符、
	// 组合键帽以及国旗标签序列。肤色修饰符落在 1F000-1FAFF 区间内。
	emojiUnicode = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{2300}-\x{23FF}\x{2B00}-\x{2BFF}\x{FE00}-\x{FE0F}\x{200D}\x{20E3}\x{E0020}-\x{E007F}\x{3030}\x{303D}\x{3297}\x{3299}]`)

	// url 匹配 http(s):// 或 www. 开头的链接及其后紧跟的一个空白。
	url = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+\s?`)

	passes = []*regexp.Regexp{emojiLiteral, emojiUnicode, url}
)

// Text 依次移除表情占位符、emoji 字符和链接，其余字符保持不变。
// 删除可能拼接出新的匹配，因此重复执行直到结果不再变化，保证幂等。
func Text(s string) string {
	for {
		next := once(s)
		if next == s {
			return s
		}
		s = next
	}
}

func once(s string) string {
	for _, re := range passes {
		s = re.ReplaceAllString(s, "")
	}
	return s
}
