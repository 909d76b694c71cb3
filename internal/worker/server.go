package worker

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"live-classroom/internal/tasks"
)

// WorkerServer 包装 asynq 服务端，消费定时的收尾任务。
type WorkerServer struct {
	server          *asynq.Server
	finalizeHandler *FinalizeHandler
}

// NewWorkerServer 创建后台任务服务端。
func NewWorkerServer(redisOpt asynq.RedisClientOpt, finalizeHandler *FinalizeHandler) *WorkerServer {
	if finalizeHandler == nil {
		panic("FinalizeHandler cannot be nil for WorkerServer")
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			"critical": 6,
			"default":  3,
			"low":      1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithError(err).WithField("task_type", task.Type()).Error("Background task failed")
		}),
	})
	return &WorkerServer{server: server, finalizeHandler: finalizeHandler}
}

// Start 注册任务处理器并启动服务端 (阻塞)。
func (w *WorkerServer) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypePollFinalize, w.finalizeHandler.ProcessPollFinalize)
	mux.HandleFunc(tasks.TypeQnaFinalize, w.finalizeHandler.ProcessQnaFinalize)

	logrus.Info("Worker server starting...")
	return w.server.Run(mux)
}

// Shutdown 优雅停止服务端，等待进行中的任务完成。
func (w *WorkerServer) Shutdown() {
	logrus.Info("Worker server shutting down...")
	w.server.Shutdown()
}
