package docker

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const shortIDLen = 12

// shortID 返回 12 位短 ID，用于错误信息。
func shortID(id string) string {
	id = strings.TrimPrefix(strings.TrimSpace(id), "sha256:")
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// keepTail 只保留 s 末尾不超过 limit 字节的内容，并从完整的 UTF-8 字符处开始。
func keepTail(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	tail := s[len(s)-limit:]
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}
	return fmt.Sprintf("[%d bytes truncated]\n", len(s)-len(tail)) + tail
}
