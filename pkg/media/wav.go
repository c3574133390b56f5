package media

import (
	"bytes"
	"encoding/binary"
)

// WAV encodes the segment as a 16-bit mono PCM WAV file for batch
// transcription APIs that refuse raw sample streams.
func (s Segment) WAV() []byte {
	dataLen := len(s.PCM) * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(s.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(s.SampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	for _, sample := range s.PCM {
		binary.Write(buf, binary.LittleEndian, sample)
	}
	return buf.Bytes()
}
