package reference

import (
	"fmt"
	"regexp"
	"strings"

	"docRender/internal/errcode"
)

// MinIDLength 是裸 ID 的最短长度。
const MinIDLength = 20

var bareID = regexp.MustCompile(fmt.Sprintf(`^[\w-]{%d,}$`, MinIDLength))

// 按顺序匹配，先命中者生效；/file/d/ 必须排在 /d/ 之前。
var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([\w-]+)`),
	regexp.MustCompile(`[?&]id=([\w-]+)`),
	regexp.MustCompile(`/d/([\w-]+)`),
	regexp.MustCompile(`/open\?id=([\w-]+)`),
}

// Resolve 从分享链接或裸 ID 中解析出文件 ID。
func Resolve(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty reference: %w", errcode.ErrInvalidReference)
	}

	if bareID.MatchString(input) {
		return input, nil
	}

	for _, pattern := range urlPatterns {
		if m := pattern.FindStringSubmatch(input); m != nil && m[1] != "" {
			return m[1], nil
		}
	}

	return "", fmt.Errorf("unrecognised reference %q: %w", input, errcode.ErrInvalidReference)
}
