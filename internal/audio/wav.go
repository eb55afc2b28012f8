package audio

import (
	"encoding/binary"
	"fmt"
)

const wavHeaderLen = 44

// EncodeWAV wraps mono 16-bit samples in a canonical 44-byte PCM WAV header.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataLen := len(samples) * 2
	wav := make([]byte, wavHeaderLen+dataLen)

	copy(wav[0:], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:], uint32(len(wav)-8))
	copy(wav[8:], "WAVE")
	copy(wav[12:], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:], 16)
	binary.LittleEndian.PutUint16(wav[20:], wavFormatPCM)
	binary.LittleEndian.PutUint16(wav[22:], channels)
	binary.LittleEndian.PutUint32(wav[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(wav[32:], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(wav[34:], bitsPerSample)
	copy(wav[36:], "data")
	binary.LittleEndian.PutUint32(wav[40:], uint32(dataLen))

	pcm := wav[wavHeaderLen:]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return wav, nil
}
