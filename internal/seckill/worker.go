package seckill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	rediskey "dianping/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Worker 订单落库的后台消费者，每个进程跑一个。
// 主循环阻塞读取消费组的新消息并落库，任何处理失败都会转入
// pending-list 补偿循环：重放本消费者已投递未确认的消息，
// 进程崩溃后重启也由同一路径自动接管遗留消息。
type Worker struct {
	rdb       *rd.Client
	finalizer *Finalizer

	stream   string
	group    string
	consumer string
}

func NewWorker(rdb *rd.Client, finalizer *Finalizer, consumer string) *Worker {
	return &Worker{
		rdb:       rdb,
		finalizer: finalizer,
		stream:    rediskey.OrderStream,
		group:     rediskey.OrderGroup,
		consumer:  consumer,
	}
}

// Run 启动消费循环，直到 ctx 取消。
// 启动时总是先跑一轮补偿，接管上次崩溃遗留的 pending 消息。
func (w *Worker) Run(ctx context.Context) {
	// 建组失败只能重试：退出会让已通过准入的订单永远滞留在队列里
	for {
		err := w.ensureGroup(ctx)
		if err == nil {
			break
		}
		log.Printf("order worker ensure group: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}

	w.recoverPending(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := w.readGroup(ctx, ">", 2*time.Second)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("order worker read: %v", err)
			time.Sleep(300 * time.Millisecond)
			continue
		}
		// 阻塞超时没等到消息属于正常情况，直接进入下一轮
		if len(msgs) == 0 {
			continue
		}

		if err := w.handle(ctx, msgs[0]); err != nil {
			log.Printf("order worker handle %s: %v", msgs[0].ID, err)
			// 失败的消息未 ACK，转入补偿循环重放本消费者的 pending
			w.recoverPending(ctx)
		}
	}
}

// recoverPending 从头重放本消费者的 pending-list，直到清空。
func (w *Worker) recoverPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := w.readGroup(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("order worker read pending: %v", err)
			time.Sleep(300 * time.Millisecond)
			continue
		}
		// pending 已清空，回到主循环
		if len(msgs) == 0 {
			return
		}

		if err := w.handle(ctx, msgs[0]); err != nil {
			log.Printf("order worker replay %s: %v", msgs[0].ID, err)
			time.Sleep(200 * time.Millisecond)
		}
	}
}

func (w *Worker) handle(ctx context.Context, xm rd.XMessage) error {
	t, err := parseTicket(xm.Values)
	if err != nil {
		// 脏消息：ACK 丢弃，否则会永远卡住 pending-list
		log.Printf("order worker drop message %s: %v", xm.ID, err)
		return w.ack(ctx, xm.ID)
	}
	if err := w.finalizer.Finalize(ctx, t); err != nil {
		return err
	}
	return w.ack(ctx, xm.ID)
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.stream, w.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (w *Worker) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    w.group,
		Consumer: w.consumer,
		Streams:  []string{w.stream, streamID},
		Count:    1,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 1)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// ack 确认并删除消息：XACK 移出 pending，XDEL 释放 Stream 存储。
func (w *Worker) ack(ctx context.Context, id string) error {
	pipe := w.rdb.TxPipeline()
	pipe.XAck(ctx, w.stream, w.group, id)
	pipe.XDel(ctx, w.stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func parseTicket(values map[string]interface{}) (OrderTicket, error) {
	userStr, err := getStreamString(values, "user_id")
	if err != nil {
		return OrderTicket{}, err
	}
	voucherStr, err := getStreamString(values, "voucher_id")
	if err != nil {
		return OrderTicket{}, err
	}
	orderStr, err := getStreamString(values, "id")
	if err != nil {
		return OrderTicket{}, err
	}

	userID, err := strconv.ParseUint(userStr, 10, 64)
	if err != nil {
		return OrderTicket{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	voucherID, err := strconv.ParseUint(voucherStr, 10, 64)
	if err != nil {
		return OrderTicket{}, fmt.Errorf("invalid voucher_id %q", voucherStr)
	}
	orderID, err := strconv.ParseInt(orderStr, 10, 64)
	if err != nil {
		return OrderTicket{}, fmt.Errorf("invalid order id %q", orderStr)
	}

	if orderID <= 0 || userID == 0 || voucherID == 0 {
		return OrderTicket{}, fmt.Errorf("incomplete ticket: order=%d user=%d voucher=%d", orderID, userID, voucherID)
	}
	return OrderTicket{OrderID: orderID, UserID: userID, VoucherID: voucherID}, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
