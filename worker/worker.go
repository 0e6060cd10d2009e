package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
)

// 批量窗口：缓冲区从空到非空时起一个 3 秒定时器，到点整批落库
const DefaultFlushWindow = 3 * time.Second

// MessageStore 永久存储的批量写入口，一次 flush 恰好一次调用
type MessageStore interface {
	BulkInsert(ctx context.Context, batch []models.ChatMessage) error
}

// CounterStore 持久未读计数，落库成功后按对端角色逐条累加
type CounterStore interface {
	IncrUnseen(ctx context.Context, role, conversationID string) (int64, error)
}

// 缓冲区条目：消息本体 + 落库成功后提交 offset 的回调。
// offset 提交推迟到整批落库之后，窗口内崩溃靠重新消费补，
// dedup 索引保证重放不写重
type pending struct {
	msg models.ChatMessage
	ack func()
}

// Worker 把消息日志的流式消费转成定时批量写。
// flush 单飞：flushMu 串行化所有 flush，flushing 标志挡住
// 落库期间新到消息布定时器；只有缓冲区换出这一步持 mu。
// 落库失败整批塞回队头重试，窗口长度即重试间隔，不设上限、没有死信
type Worker struct {
	store    MessageStore
	counters CounterStore
	window   time.Duration

	mu       sync.Mutex
	buf      []pending
	timer    *time.Timer
	flushing bool

	flushMu sync.Mutex
}

func NewWorker(store MessageStore, counters CounterStore, window time.Duration) *Worker {
	if window <= 0 {
		window = DefaultFlushWindow
	}
	return &Worker{
		store:    store,
		counters: counters,
		window:   window,
	}
}

// Add 追加一条消息，不带 offset 回调
func (w *Worker) Add(msg models.ChatMessage) {
	w.add(pending{msg: msg})
}

// AddWithAck 追加一条消息，整批落库成功后回调 ack
func (w *Worker) AddWithAck(msg models.ChatMessage, ack func()) {
	w.add(pending{msg: msg, ack: ack})
}

func (w *Worker) add(p pending) {
	w.mu.Lock()
	w.buf = append(w.buf, p)
	w.armLocked()
	w.mu.Unlock()
}

// 单飞定时器：已有挂起的 flush、或者落库正在进行时都不布。
// 落库收尾时会按缓冲区状态补定时器
func (w *Worker) armLocked() {
	if w.timer == nil && !w.flushing {
		w.timer = time.AfterFunc(w.window, w.Flush)
	}
}

// Flush 原子换出整个缓冲区后整批落库。
// 成功：逐条给对端角色累加持久未读数，然后提交这批消息的 offset；
// 失败：原批次按原顺序塞回队头（排在 flush 期间新到的消息前面），重新布定时器
func (w *Worker) Flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	w.timer = nil
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buf
	w.buf = nil
	w.flushing = true
	w.mu.Unlock()

	msgs := make([]models.ChatMessage, len(batch))
	for i := range batch {
		msgs[i] = batch[i].msg
		if msgs[i].DedupKey == "" {
			msgs[i].DedupKey = msgs[i].ComputeDedupKey()
		}
	}

	ctx := context.Background()
	if err := w.store.BulkInsert(ctx, msgs); err != nil {
		log.Printf("Bulk insert of %d messages failed, re-buffering: %v", len(batch), err)
		w.mu.Lock()
		w.buf = append(batch, w.buf...)
		w.flushing = false
		w.armLocked()
		w.mu.Unlock()
		return
	}

	for i := range msgs {
		role := models.OppositeRole(msgs[i].SenderType)
		if _, err := w.counters.IncrUnseen(ctx, role, msgs[i].ConversationID); err != nil {
			log.Printf("Failed to increment unseen counter for (%s, %s): %v", role, msgs[i].ConversationID, err)
		}
	}

	// 这批消息都进了永久存储，现在才能提交 offset
	for i := range batch {
		if batch[i].ack != nil {
			batch[i].ack()
		}
	}

	log.Printf("Flushed %d chat messages", len(msgs))

	// flush 期间又有新消息进来的话补一个定时器
	w.mu.Lock()
	w.flushing = false
	if len(w.buf) > 0 {
		w.armLocked()
	}
	w.mu.Unlock()
}

// Stop 停掉挂起的定时器并做最后一次同步 flush；
// 有 flush 在飞会先等它收尾
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.Flush()
}

// Pending 当前缓冲区长度，测试和排查用
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}
