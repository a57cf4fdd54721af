package airplay

// RTPDeltaMs переводит разницу RTP timestamp в миллисекунды.
// Вычитание выполняется по модулю 2^32, поэтому результат корректен
// при переполнении счетчика между start и current.
func RTPDeltaMs(start, current uint32, sampleRate int) int64 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	delta := uint64(current - start)
	return int64(delta * 1000 / uint64(sampleRate))
}

// Progress возвращает позицию и длительность трека в миллисекундах
// по RTP меткам начала, текущего момента и конца трека.
func Progress(start, current, end uint32, sampleRate int) (position, duration int64) {
	return RTPDeltaMs(start, current, sampleRate), RTPDeltaMs(start, end, sampleRate)
}
