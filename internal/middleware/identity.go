package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity 从请求中提取参与者身份并写入 gin context。
// 参与者 ID 由外层平台分发，通过 X-Participant-Id 头或同名查询参数携带；
// 都缺失时分配一个一次性的匿名 ID，保证下游的去重和限流总有稳定主体。
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := c.GetHeader("X-Participant-Id")
		if participantID == "" {
			participantID = c.Query("participant_id")
		}
		if participantID == "" {
			participantID = uuid.NewString()
		}

		participantName := c.GetHeader("X-Participant-Name")
		if participantName == "" {
			participantName = c.Query("participant_name")
		}
		if participantName == "" {
			participantName = "anonymous"
		}

		c.Set("participant_id", participantID)
		c.Set("participant_name", participantName)
		c.Next()
	}
}
