package pcapio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/callscope/callscope/internal/storage"
)

// Decoder turns one retained RTP payload into 16-bit PCM samples for
// WriteStreamWAV, the alternate output spec §6/§9 permits for an "RTP
// Stream" save scope. The codec decode from RTP payload bytes to PCM16 is an external
// black-box per spec §1 ("only the bytes -> PCM16 interface is assumed");
// decode is supplied by the caller, grounded in
// original_source/src/capture/codecs/codec_g729.c's decode signature
// (raw payload in, PCM16 samples out).
type Decoder func(payload []byte) (pcm16 []int16, err error)

const sampleRateHz = 8000 // standard narrowband codecs (PCMU/PCMA/G.729)

// WriteStreamWAV decodes every retained payload in order and writes a
// canonical 16-bit mono PCM WAV file.
func WriteStreamWAV(dst io.Writer, s *storage.Stream, decode Decoder) error {
	var pcm []int16
	for _, payload := range s.Payload {
		samples, err := decode(payload)
		if err != nil {
			return fmt.Errorf("pcapio: decode rtp payload: %w", err)
		}
		pcm = append(pcm, samples...)
	}
	return writeWAV(dst, pcm, sampleRateHz)
}

func writeWAV(dst io.Writer, pcm []int16, sampleRate uint32) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := uint16(numChannels * bitsPerSample / 8)
	dataSize := uint32(len(pcm) * 2)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)   // PCM
	binary.LittleEndian.PutUint16(header[22:24], numChannels)
	binary.LittleEndian.PutUint32(header[24:28], sampleRate)
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := dst.Write(header); err != nil {
		return fmt.Errorf("pcapio: write wav header: %w", err)
	}

	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	if _, err := dst.Write(buf); err != nil {
		return fmt.Errorf("pcapio: write wav samples: %w", err)
	}
	return nil
}
