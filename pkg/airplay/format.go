package airplay

import (
	"strconv"
	"strings"
)

// Значения формата по умолчанию для неполных дескрипторов
const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// Format нормализованный аудио формат потока.
// Config содержит исходный дескриптор кодека и передается конвейеру без изменений.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Config     string
}

// fieldReader последовательно читает беззнаковые числовые поля дескриптора.
// После первого нечислового или отсутствующего поля все следующие чтения возвращают 0.
type fieldReader struct {
	tokens []string
	pos    int
	broken bool
}

func newFieldReader(descriptor string) *fieldReader {
	return &fieldReader{tokens: strings.Fields(descriptor)}
}

func (r *fieldReader) next() uint32 {
	if r.broken || r.pos >= len(r.tokens) {
		r.broken = true
		return 0
	}

	v, err := strconv.ParseUint(r.tokens[r.pos], 10, 32)
	if err != nil {
		r.broken = true
		return 0
	}
	r.pos++
	return uint32(v)
}

func (r *fieldReader) skip(n int) {
	for i := 0; i < n; i++ {
		r.next()
	}
}

// Negotiate извлекает частоту дискретизации и число каналов из дескриптора кодека.
//
// ALAC (fmtp): payload type, max samples per frame, compatible version, sample size,
// history mult, initial history, rice param limit, channel count, max run,
// max coded frame size, average bitrate, sample rate.
//
// PCM: payload type, bit depth, sample rate, channel count.
//
// Для AAC и неизвестных кодеков дескриптор не разбирается.
// Функция никогда не завершается ошибкой: недостающие значения заменяются на 44100 Гц / 2 канала.
func Negotiate(codec Codec, descriptor string) Format {
	format := Format{Config: descriptor}
	r := newFieldReader(descriptor)

	switch codec {
	case CodecALAC:
		r.skip(3) // payload type, max samples per frame, compatible version
		format.BitDepth = int(r.next())
		r.skip(3) // history mult, initial history, rice param limit
		format.Channels = int(r.next())
		r.skip(3) // max run, max coded frame size, average bitrate
		format.SampleRate = int(r.next())
	case CodecPCM:
		r.skip(1)
		format.BitDepth = int(r.next())
		format.SampleRate = int(r.next())
		format.Channels = int(r.next())
	default:
		format.SampleRate = DefaultSampleRate
		format.Channels = DefaultChannels
	}

	if format.SampleRate <= 0 {
		format.SampleRate = DefaultSampleRate
	}
	if format.Channels <= 0 {
		format.Channels = DefaultChannels
	}

	return format
}
