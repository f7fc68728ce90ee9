package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// OrderEvent 订单落库成功后对外广播的事件，供下游（通知、对账）消费。
type OrderEvent struct {
	OrderID   int64  `json:"order_id"`
	UserID    uint64 `json:"user_id"`
	VoucherID uint64 `json:"voucher_id"`
	PayValue  int64  `json:"pay_value"` // 分
}

// Validate 做最小字段校验，防止下游收到脏事件。
func (e OrderEvent) Validate() error {
	if e.OrderID <= 0 {
		return fmt.Errorf("order_id is required")
	}
	if e.UserID == 0 {
		return fmt.Errorf("user_id is required")
	}
	if e.VoucherID == 0 {
		return fmt.Errorf("voucher_id is required")
	}
	return nil
}

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者并配置可靠性参数：
// - Hash + Key: 相同订单号尽量落到同一分区。
// - RequireAll: 等待 ISR 副本确认，降低事件丢失风险。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一条订单事件，以订单号作为 Kafka key。
func (p *Producer) Publish(ctx context.Context, e OrderEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(e.OrderID, 10)),
		Value: b,
	})
}
