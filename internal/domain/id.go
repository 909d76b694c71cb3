package domain

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID 格式: "{epochMillis}-{randomSuffix}"。
// 按嵌入的时间戳数值可排序，随机后缀避免同一毫秒内的冲突。
const idSuffixLength = 6

const idSuffixLetters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SortableID 基于给定的毫秒时间戳生成一个可排序的唯一 ID。
func SortableID(epochMillis int64) string {
	return fmt.Sprintf("%d-%s", epochMillis, randomSuffix())
}

// NewSortableID 基于当前时间生成一个可排序的唯一 ID。
func NewSortableID() string {
	return SortableID(time.Now().UnixMilli())
}

// TimestampOf 从 ID 中提取嵌入的毫秒时间戳。
// ID 格式不合法时返回错误。
func TimestampOf(id string) (int64, error) {
	millisPart, _, found := strings.Cut(id, "-")
	if !found {
		return 0, fmt.Errorf("malformed id %q: missing suffix separator", id)
	}
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed id %q: %w", id, err)
	}
	return millis, nil
}

// randomSuffix 生成固定长度的随机大写字母数字后缀。
func randomSuffix() string {
	b := make([]byte, idSuffixLength)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand 失败极其罕见，退化为基于时间的后缀
		return strconv.FormatInt(time.Now().UnixNano()%1e6, 36)
	}
	for i := range b {
		b[i] = idSuffixLetters[int(b[i])%len(idSuffixLetters)]
	}
	return string(b)
}
