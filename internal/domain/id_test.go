package domain_test

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-classroom/internal/domain"
)

func TestSortableID_Format(t *testing.T) {
	id := domain.SortableID(1700000000123)

	millisPart, suffix, found := strings.Cut(id, "-")
	require.True(t, found)
	assert.Equal(t, "1700000000123", millisPart)
	assert.Len(t, suffix, 6, "随机后缀应为固定长度")
}

func TestSortableID_OrderFollowsTimestamp(t *testing.T) {
	ids := []string{
		domain.SortableID(3000),
		domain.SortableID(1000),
		domain.SortableID(2000),
	}

	sort.Slice(ids, func(i, j int) bool {
		ti, _ := domain.TimestampOf(ids[i])
		tj, _ := domain.TimestampOf(ids[j])
		return ti < tj
	})

	first, _ := domain.TimestampOf(ids[0])
	last, _ := domain.TimestampOf(ids[2])
	assert.Equal(t, int64(1000), first)
	assert.Equal(t, int64(3000), last)
}

func TestTimestampOf_RoundTrip(t *testing.T) {
	id := domain.SortableID(42)
	millis, err := domain.TimestampOf(id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), millis)
}

func TestTimestampOf_Malformed(t *testing.T) {
	cases := []string{"", "nosuffix", "abc-XYZ", "-ABCDEF"}
	for _, id := range cases {
		_, err := domain.TimestampOf(id)
		assert.Error(t, err, "id %q 应被判定为非法", id)
	}
}

func TestNewPoll_OptionsAreDenseZeroBased(t *testing.T) {
	draft := domain.PollDraft{Title: "q", Options: []string{"a", "b", "c"}, TimeLimitSeconds: 30}
	poll := domain.NewPoll("room-1", draft, time.Now().UTC())

	require.Len(t, poll.Options, 3)
	for i, opt := range poll.Options {
		assert.Equal(t, i, opt.ID)
		assert.Zero(t, opt.Count)
	}
	assert.Equal(t, domain.PollStatusPending, poll.Status)
}
