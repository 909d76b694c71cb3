package http

import "github.com/gin-gonic/gin"

// ErrorResponse 统一的错误响应体
func ErrorResponse(message string) gin.H {
	return gin.H{"error": message}
}

// SuccessResponse 统一的成功响应体
func SuccessResponse(data interface{}) gin.H {
	return gin.H{"data": data}
}
