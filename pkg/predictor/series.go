package predictor

import (
	"sync/atomic"
	"time"
)

// bucket 一个小时的计数槽
type bucket struct {
	hour  atomic.Int64 // 自纪元起的小时序号
	count atomic.Int64
}

// series 按小时分桶的环形计数器，读写均无锁
type series struct {
	buckets []bucket
	samples atomic.Int64
	last    atomic.Int64 // 最近一次观测的小时序号
}

func newSeries(hours int) *series {
	s := &series{buckets: make([]bucket, hours)}
	for i := range s.buckets {
		s.buckets[i].hour.Store(-1)
	}
	return s
}

func hourOf(t time.Time) int64 {
	return t.Unix() / 3600
}

// add 在对应小时桶上计数。过期于环长度的观测被丢弃。
// 桶复用时的重置与并发计数之间允许短暂误差，预测数据本身是最终一致的。
func (s *series) add(t time.Time, n int64) {
	h := hourOf(t)
	size := int64(len(s.buckets))
	if last := s.last.Load(); last-h >= size {
		return
	}
	b := &s.buckets[h%size]
	for {
		cur := b.hour.Load()
		if cur == h {
			b.count.Add(n)
			break
		}
		if cur > h {
			return
		}
		if b.hour.CompareAndSwap(cur, h) {
			b.count.Store(n)
			break
		}
	}
	s.samples.Add(n)
	for {
		last := s.last.Load()
		if h <= last || s.last.CompareAndSwap(last, h) {
			break
		}
	}
}

// at 返回指定小时的计数
func (s *series) at(h int64) int64 {
	b := &s.buckets[h%int64(len(s.buckets))]
	if b.hour.Load() != h {
		return 0
	}
	return b.count.Load()
}

// window 返回截止到 end（不含）的最近 n 个小时的计数，按时间升序
func (s *series) window(end int64, n int) []int64 {
	if n > len(s.buckets) {
		n = len(s.buckets)
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		h := end - int64(n-i)
		if h < 0 {
			continue
		}
		out[i] = s.at(h)
	}
	return out
}
