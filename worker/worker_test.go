package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khiemvuong/e-commerce-saas-sub002/models"
)

type fakeStore struct {
	mu       sync.Mutex
	batches  [][]models.ChatMessage
	attempts int
	failN    int // 前 failN 次调用返回错误
}

func (s *fakeStore) BulkInsert(_ context.Context, batch []models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failN > 0 {
		s.failN--
		return errors.New("permanent store unavailable")
	}
	cp := make([]models.ChatMessage, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *fakeStore) all() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeStore) tried() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

type fakeCounters struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: make(map[string]int64)}
}

func (c *fakeCounters) IncrUnseen(_ context.Context, role, conversationID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := role + ":" + conversationID
	c.counts[k]++
	return c.counts[k], nil
}

func (c *fakeCounters) get(role, conversationID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[role+":"+conversationID]
}

func msg(conv, sender, role, content string) models.ChatMessage {
	return models.ChatMessage{
		ConversationID: conv,
		SenderID:       sender,
		SenderType:     role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

func TestSingleBulkInsertPerWindow(t *testing.T) {
	store := &fakeStore{}
	counters := newFakeCounters()
	w := NewWorker(store, counters, 30*time.Millisecond)

	// 一个窗口内到达的三条消息必须进同一次批量写，且保持发送顺序
	w.Add(msg("C1", "U1", "user", "one"))
	w.Add(msg("C1", "U1", "user", "two"))
	w.Add(msg("C1", "U1", "user", "three"))

	assert.Eventually(t, func() bool { return store.calls() == 1 }, time.Second, 5*time.Millisecond)

	got := store.all()
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, "three", got[2].Content)
	assert.Equal(t, 0, w.Pending())
}

func TestEmptyWindowDoesNothing(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, newFakeCounters(), time.Millisecond)

	w.Flush()
	assert.Equal(t, 0, store.calls())
}

func TestFailedFlushRebuffersInOrder(t *testing.T) {
	store := &fakeStore{failN: 2}
	counters := newFakeCounters()
	w := NewWorker(store, counters, 20*time.Millisecond)

	w.Add(msg("C1", "U1", "user", "one"))
	w.Add(msg("C1", "U1", "user", "two"))

	// 第一次 flush 失败后到达的消息要排在重试批次后面
	assert.Eventually(t, func() bool { return store.tried() >= 1 }, time.Second, time.Millisecond)
	w.Add(msg("C1", "U1", "user", "three"))

	// 连续失败两次后第三次成功，所有消息恰好各落库一次
	assert.Eventually(t, func() bool { return store.calls() == 1 }, time.Second, 5*time.Millisecond)

	got := store.all()
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, "three", got[2].Content)
}

func TestCounterMatchesDeliveredMessages(t *testing.T) {
	store := &fakeStore{}
	counters := newFakeCounters()
	w := NewWorker(store, counters, 10*time.Millisecond)

	// 买家连发 K 条，卖家侧持久未读数要等于 K
	const k = 5
	for i := 0; i < k; i++ {
		w.Add(msg("C1", "U1", "user", fmt.Sprintf("m%d", i)))
	}

	assert.Eventually(t, func() bool { return counters.get("seller", "C1") == k }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 0, counters.get("user", "C1"))
}

func TestCounterNotIncrementedOnFailure(t *testing.T) {
	store := &fakeStore{failN: 1}
	counters := newFakeCounters()
	w := NewWorker(store, counters, 10*time.Millisecond)

	w.Add(msg("C1", "S1", "seller", "hello"))

	assert.Eventually(t, func() bool { return store.calls() == 1 }, time.Second, 5*time.Millisecond)
	// 重试成功后只累加一次
	assert.EqualValues(t, 1, counters.get("user", "C1"))
}

func TestDedupKeyAssignedBeforeInsert(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, newFakeCounters(), 10*time.Millisecond)

	w.Add(msg("C1", "U1", "user", "hi"))
	assert.Eventually(t, func() bool { return store.calls() == 1 }, time.Second, 5*time.Millisecond)

	got := store.all()
	require.Len(t, got, 1)
	assert.Len(t, got[0].DedupKey, 40)
}

func TestStopFlushesPending(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, newFakeCounters(), time.Hour)

	w.Add(msg("C1", "U1", "user", "bye"))
	w.Stop()

	assert.Equal(t, 1, store.calls())
	assert.Equal(t, 0, w.Pending())
}

func TestHandleDecodesLogEntry(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, newFakeCounters(), time.Hour)

	var acked int32
	err := w.Handle(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"conversationId":"C1","senderId":"U1","senderType":"user","content":"hi","createdAt":"2026-01-02T15:04:05Z"}`),
	}, func() { atomic.AddInt32(&acked, 1) })
	require.NoError(t, err)
	assert.Equal(t, 1, w.Pending())
	// offset 要等整批落库后才提交，入缓冲区不算
	assert.EqualValues(t, 0, atomic.LoadInt32(&acked))

	// 坏载荷：记日志、直接提交 offset，不进缓冲区
	var badAcked int32
	err = w.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("not json")},
		func() { atomic.AddInt32(&badAcked, 1) })
	require.NoError(t, err)
	assert.Equal(t, 1, w.Pending())
	assert.EqualValues(t, 1, atomic.LoadInt32(&badAcked))

	w.Stop()
	assert.EqualValues(t, 1, atomic.LoadInt32(&acked))
}

func TestAcksFollowSuccessfulFlushOnly(t *testing.T) {
	store := &fakeStore{failN: 1}
	counters := newFakeCounters()
	w := NewWorker(store, counters, 10*time.Millisecond)

	var acked int32
	const k = 3
	for i := 0; i < k; i++ {
		w.AddWithAck(msg("C1", "U1", "user", fmt.Sprintf("m%d", i)),
			func() { atomic.AddInt32(&acked, 1) })
	}

	// 第一次落库失败，任何一条的 offset 都不能提交
	assert.Eventually(t, func() bool { return store.tried() >= 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&acked))

	// 重试成功后整批一起提交
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&acked) == k }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.calls())
}

// 落库故意放慢的存储，顺带记录并发中的调用数
type slowStore struct {
	fakeStore
	delay       time.Duration
	inFlight    int32
	maxInFlight int32
}

func (s *slowStore) BulkInsert(ctx context.Context, batch []models.ChatMessage) error {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		max := atomic.LoadInt32(&s.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&s.maxInFlight, max, n) {
			break
		}
	}
	time.Sleep(s.delay)
	atomic.AddInt32(&s.inFlight, -1)
	return s.fakeStore.BulkInsert(ctx, batch)
}

func TestFlushesNeverOverlap(t *testing.T) {
	store := &slowStore{delay: 80 * time.Millisecond}
	w := NewWorker(store, newFakeCounters(), 10*time.Millisecond)

	// 第一批还在慢吞吞落库时后续窗口到点，不允许并发出第二次批量写
	w.Add(msg("C1", "U1", "user", "one"))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&store.inFlight) == 1 }, time.Second, time.Millisecond)

	w.Add(msg("C1", "U1", "user", "two"))
	w.Add(msg("C1", "U1", "user", "three"))
	time.Sleep(40 * time.Millisecond)

	assert.Eventually(t, func() bool { return store.calls() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&store.maxInFlight))
	assert.Equal(t, 0, w.Pending())

	got := store.all()
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Content)
	assert.Equal(t, "two", got[1].Content)
	assert.Equal(t, "three", got[2].Content)
}
