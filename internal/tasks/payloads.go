package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeResumeIndex = "resume:index"
)

// ResumeIndexPayload 描述索引一份简历所需的最小信息。
type ResumeIndexPayload struct {
	DocumentID    uint   `json:"document_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewResumeIndexTask 构造一个新的简历索引任务。
func NewResumeIndexTask(documentID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ResumeIndexPayload{
		DocumentID:    documentID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeResumeIndex, payload), nil
}
