package batchmast

import (
	"container/list"
	"encoding/json"
	"sync"
	"time"
)

// Journal keeps submitted jobs until their results have been collected,
// so a restarted client can re-attach to runs still in flight.
type Journal interface {
	Push(sub Submission) error
	Eject(limit int) ([]Submission, error)
	Len() int
}

// Submission identifies one Batch job and the workspace it writes to.
type Submission struct {
	JobID       string    `json:"job_id"`
	Group       string    `json:"group"`
	RemoteDir   string    `json:"remote_dir"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (s Submission) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

func (s *Submission) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// NewMemoryJournal holds submissions in process memory only; they are
// lost on restart. The default when no file journal is configured.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		buffer: list.New(),
	}
}

type MemoryJournal struct {
	buffer *list.List
	mx     sync.Mutex
}

func (m *MemoryJournal) Push(sub Submission) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.buffer.PushBack(sub)
	return nil
}

func (m *MemoryJournal) Eject(limit int) (subs []Submission, err error) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if limit > m.buffer.Len() {
		limit = m.buffer.Len()
	}

	if limit < 0 {
		limit = m.buffer.Len()
	}

	if limit == 0 {
		return nil, nil
	}

	subs = make([]Submission, 0, limit)
	it := 0
	for e := m.buffer.Front(); e != nil && it < limit; {
		cur := e
		e = e.Next()
		subs = append(subs, m.buffer.Remove(cur).(Submission))
		it++
	}
	return subs, nil
}

func (m *MemoryJournal) Len() int {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.buffer.Len()
}
