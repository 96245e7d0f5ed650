package pipeline

import (
	"sync"

	"kulai-character-server/modules/common/model"
)

// tracker - 진행률 카운터
//
// Current counts steps DISPATCHED, not steps completed: it is incremented
// right before a network-calling step starts and nothing is emitted when
// the step finishes. Per-background units run concurrently, so their
// labels may interleave in any order, but Current never decreases and
// never exceeds Total. Total is fixed when the tracker is created.
type tracker struct {
	mu    sync.Mutex
	state model.ProgressState
	sink  Sink
}

func newTracker(total int, sink Sink) *tracker {
	return &tracker{state: model.ProgressState{Total: total}, sink: sink}
}

// step - 다음 단계 시작 알림 (Current +1)
func (t *tracker) step(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Current < t.state.Total {
		t.state.Current++
	}
	t.state.Label = label
	t.sink.Progress(t.state)
}

// note - 카운터 변화 없이 라벨만 갱신 (건너뛴 단계 안내용)
func (t *tracker) note(label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Label = label
	t.sink.Progress(t.state)
}
