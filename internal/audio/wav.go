package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// BytesPerSample is the width of the s16le PCM used throughout the client.
const BytesPerSample = 2

// BuildWAV creates a RIFF/WAVE header for 16-bit PCM and returns the
// concatenated bytes (header + data).
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// Samples decodes little-endian 16-bit mono PCM into floats in [-1, 1).
// A trailing odd byte is ignored.
func Samples(pcm []byte) []float64 {
	n := len(pcm) / BytesPerSample
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float64(v) / 32768
	}
	return out
}

// PCMDuration is the playback length of mono s16le pcm at sampleRate.
func PCMDuration(pcmBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := pcmBytes / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
