package airplay

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// PlayerState состояние воспроизведения, которое видят читатели статуса.
type PlayerState int

const (
	StateNone PlayerState = iota
	StatePlaying
	StatePaused
	StateStopped
	StateError
)

func (s PlayerState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText позволяет сериализовать состояние в JSON строкой
func (s PlayerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText разбирает имя состояния. Неизвестное имя дает StateNone.
func (s *PlayerState) UnmarshalText(text []byte) error {
	*s = parsePlayerState(string(text))
	return nil
}

func parsePlayerState(name string) PlayerState {
	switch name {
	case "playing":
		return StatePlaying
	case "paused":
		return StatePaused
	case "stopped":
		return StateStopped
	case "error":
		return StateError
	default:
		return StateNone
	}
}

// События конечного автомата сессии
const (
	eventPlay     = "play"
	eventPause    = "pause"
	eventEOS      = "eos"
	eventFail     = "fail"
	eventTeardown = "teardown"
)

var allStates = []PlayerState{StateNone, StatePlaying, StatePaused, StateStopped, StateError}

// stateNames имена всех состояний. Источником каждого события служат все состояния,
// включая целевое: повторный вход дает NoTransitionError, а не InvalidEventError.
func stateNames() []string {
	names := make([]string, 0, len(allStates))
	for _, st := range allStates {
		names = append(names, st.String())
	}
	return names
}

/*
newSessionFSM создает конечный автомат состояний плеера.

Диаграмма переходов:
[None] → [Playing] ⇄ [Paused]
[любое] → [Stopped] (конец потока)
[любое] → [Error]   (ошибка конвейера)
[любое] → [None]    (teardown)

Команды управляющего канала (RECORD, FLUSH, прогресс) допускаются из любого
состояния, поэтому источники событий перечислены полностью.
*/
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateNone.String(),
		fsm.Events{
			{Name: eventPlay, Src: stateNames(), Dst: StatePlaying.String()},
			{Name: eventPause, Src: stateNames(), Dst: StatePaused.String()},
			{Name: eventEOS, Src: stateNames(), Dst: StateStopped.String()},
			{Name: eventFail, Src: stateNames(), Dst: StateError.String()},
			{Name: eventTeardown, Src: stateNames(), Dst: StateNone.String()},
		},
		fsm.Callbacks{},
	)
}

// eventFor возвращает событие автомата, ведущее в состояние dst
func eventFor(dst PlayerState) string {
	switch dst {
	case StatePlaying:
		return eventPlay
	case StatePaused:
		return eventPause
	case StateStopped:
		return eventEOS
	case StateError:
		return eventFail
	default:
		return eventTeardown
	}
}

// fire выполняет переход автомата в состояние dst.
// Повторный вход в текущее состояние переходом не считается и ошибкой не является.
func fire(machine *fsm.FSM, dst PlayerState) (from PlayerState, changed bool, err error) {
	from = parsePlayerState(machine.Current())

	err = machine.Event(context.Background(), eventFor(dst))
	if err == nil {
		return from, true, nil
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return from, false, nil
	}
	return from, false, err
}
