package pipeline

import (
	"sync"

	"kulai-character-server/modules/common/model"
)

// Sink - 실행 중 이벤트 수신자
// 순서: Progress* → Results → Finished, 또는 Progress* → Failed → Finished
type Sink interface {
	Progress(state model.ProgressState)
	Results(items []model.ResultItem)
	Failed(err error)
	Finished()
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Progress(model.ProgressState) {}
func (NopSink) Results([]model.ResultItem)   {}
func (NopSink) Failed(error)                 {}
func (NopSink) Finished()                    {}

// Recording - 받은 이벤트를 모두 기록하는 Sink (테스트/디버그용)
type Recording struct {
	mu       sync.Mutex
	progress []model.ProgressState
	items    []model.ResultItem
	err      error
	finished int
}

func (r *Recording) Progress(state model.ProgressState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, state)
}

func (r *Recording) Results(items []model.ResultItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append([]model.ResultItem(nil), items...)
}

func (r *Recording) Failed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recording) Finished() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
}

func (r *Recording) ProgressEvents() []model.ProgressState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ProgressState(nil), r.progress...)
}

func (r *Recording) Items() []model.ResultItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ResultItem(nil), r.items...)
}

func (r *Recording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recording) FinishedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

// tee - 여러 Sink 에 같은 이벤트 전달
type tee []Sink

func (t tee) Progress(state model.ProgressState) {
	for _, s := range t {
		s.Progress(state)
	}
}

func (t tee) Results(items []model.ResultItem) {
	for _, s := range t {
		s.Results(items)
	}
}

func (t tee) Failed(err error) {
	for _, s := range t {
		s.Failed(err)
	}
}

func (t tee) Finished() {
	for _, s := range t {
		s.Finished()
	}
}
