package series

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var base = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

func sampleAt(i int) Sample {
	return NewSample(base.Add(time.Duration(i)*time.Second), decimal.NewFromInt(int64(500+i)), decimal.NewFromInt(int64(499+i)))
}

func TestWindowBound(t *testing.T) {
	for _, n := range []int{0, 1, 5, 19, 20, 21, 45} {
		w := NewWindow()
		for i := 0; i < n; i++ {
			if err := w.Append(sampleAt(i)); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		want := n
		if want > Capacity {
			want = Capacity
		}
		if got := len(w.Snapshot()); got != want {
			t.Fatalf("n=%d: snapshot length %d, want %d", n, got, want)
		}
		if w.Len() != want {
			t.Fatalf("n=%d: Len %d, want %d", n, w.Len(), want)
		}
	}
}

func TestWindowEvictionOrder(t *testing.T) {
	w := NewWindow()
	for i := 0; i < Capacity; i++ {
		_ = w.Append(sampleAt(i))
	}
	before := w.Snapshot()

	next := sampleAt(Capacity)
	if err := w.Append(next); err != nil {
		t.Fatalf("append: %v", err)
	}
	after := w.Snapshot()

	if len(after) != Capacity {
		t.Fatalf("满窗口追加后长度应保持 %d", Capacity)
	}
	for i := 0; i < Capacity-1; i++ {
		if !after[i].Timestamp().Equal(before[i+1].Timestamp()) {
			t.Fatalf("位置 %d 应为原窗口第 %d 项", i, i+1)
		}
	}
	if !after[Capacity-1].Timestamp().Equal(next.Timestamp()) {
		t.Fatal("新样本应位于尾部")
	}
}

func TestWindowAcceptsEqualTimestamps(t *testing.T) {
	w := NewWindow()
	s := sampleAt(1)
	if err := w.Append(s); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(s); err != nil {
		t.Fatalf("相同时间戳不应报错: %v", err)
	}
	if w.Len() != 2 {
		t.Fatal("不应去重")
	}
}

func TestWindowRejectsOutOfOrder(t *testing.T) {
	w := NewWindow()
	_ = w.Append(sampleAt(5))
	if err := w.Append(sampleAt(4)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("期望 ErrOutOfOrder, 实际 %v", err)
	}
	if w.Len() != 1 {
		t.Fatal("拒绝的样本不应写入")
	}
}

func TestWindowSnapshotIsCopy(t *testing.T) {
	w := NewWindow()
	_ = w.Append(sampleAt(0))

	snap := w.Snapshot()
	snap[0] = sampleAt(99)

	latest, ok := w.Latest()
	if !ok || !latest.Timestamp().Equal(sampleAt(0).Timestamp()) {
		t.Fatal("修改快照不应影响窗口")
	}
}

func TestWindowReplace(t *testing.T) {
	w := NewWindow()
	_ = w.Append(sampleAt(0))

	seq := MockSequence(base.Add(time.Hour), time.Second)
	seq = append(seq, seq[len(seq)-1])
	w.Replace(seq)

	if w.Len() != Capacity {
		t.Fatalf("Replace 后长度应截断为 %d, 实际 %d", Capacity, w.Len())
	}
	latest, _ := w.Latest()
	if !latest.IsMock() {
		t.Fatal("Replace 后应只包含 mock 样本")
	}
}

func TestWindowConcurrentAppend(t *testing.T) {
	w := NewWindow()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Append(sampleAt(0))
		}()
	}
	wg.Wait()

	if w.Len() != Capacity {
		t.Fatalf("并发追加后长度应为 %d, 实际 %d", Capacity, w.Len())
	}
}
