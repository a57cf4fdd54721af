package airplay

import (
	"bytes"
	"sync"
)

// Tags метаданные текущего трека.
// Обложка хранится отдельно от JSON представления и отдается по запросу.
type Tags struct {
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
	Album     string `json:"album,omitempty"`
	Genre     string `json:"genre,omitempty"`
	Cover     []byte `json:"-"`
	CoverType string `json:"cover_type,omitempty"`
}

// HasCover сообщает, установлена ли обложка или ее тип
func (t *Tags) HasCover() bool {
	return t != nil && (len(t.Cover) > 0 || t.CoverType != "")
}

// Clone возвращает копию тегов. Байты обложки не копируются: после публикации они не изменяются.
func (t *Tags) Clone() *Tags {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Status снимок состояния плеера.
//
// Опубликованный снимок никогда не изменяется: любое изменение создает новый
// объект (copy-on-write). Поэтому читатель может хранить полученный указатель
// сколько угодно долго без блокировок.
type Status struct {
	State      PlayerState `json:"state"`
	Name       string      `json:"name,omitempty"`
	PositionMs int64       `json:"pos"`
	DurationMs int64       `json:"duration"`
	Tags       *Tags       `json:"tags,omitempty"`
	Error      string      `json:"error,omitempty"`
	Revision   uint64      `json:"revision"`
}

func (st *Status) clone() *Status {
	c := *st
	c.Tags = st.Tags.Clone()
	return &c
}

// StatusStore потокобезопасное хранилище статуса сессии.
// Все изменения сериализуются одним мьютексом, чтение отдает опубликованный снимок.
type StatusStore struct {
	mu      sync.Mutex
	current *Status
}

// NewStatusStore создает хранилище со статусом в состоянии state
func NewStatusStore(state PlayerState, name string) *StatusStore {
	return &StatusStore{
		current: &Status{State: state, Name: name},
	}
}

// Snapshot возвращает последний опубликованный статус.
// Возвращенный объект нельзя изменять.
func (s *StatusStore) Snapshot() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update применяет mutate к копии статуса и публикует результат.
// mutate выполняется под блокировкой и не должен блокироваться.
func (s *StatusStore) Update(mutate func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.clone()
	mutate(next)
	s.publishLocked(next)
}

// ReplaceTags заменяет статус целиком новым треком.
// Состояние, позиция и длительность переносятся, текст ошибки сбрасывается.
func (s *StatusStore) ReplaceTags(name string, tags *Tags) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current
	s.publishLocked(&Status{
		State:      prev.State,
		Name:       name,
		PositionMs: prev.PositionMs,
		DurationMs: prev.DurationMs,
		Tags:       tags.Clone(),
	})
}

// SetCover устанавливает обложку, только если ни обложка, ни ее тип еще не заданы.
// Возвращает false и ничего не меняет в остальных случаях.
func (s *StatusStore) SetCover(cover []byte, coverType string) bool {
	if len(cover) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.Tags.HasCover() {
		return false
	}

	next := s.current.clone()
	if next.Tags == nil {
		next.Tags = &Tags{}
	}
	next.Tags.Cover = bytes.Clone(cover)
	next.Tags.CoverType = coverType
	s.publishLocked(next)

	return true
}

// SetState меняет только состояние
func (s *StatusStore) SetState(state PlayerState) {
	s.Update(func(st *Status) {
		st.State = state
	})
}

// SetError переводит статус в состояние ошибки с текстом msg
func (s *StatusStore) SetError(msg string) {
	s.Update(func(st *Status) {
		st.State = StateError
		st.Error = msg
	})
}

func (s *StatusStore) publishLocked(next *Status) {
	next.Revision = s.current.Revision + 1
	s.current = next
}
