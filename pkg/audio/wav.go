package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotWAV            = errors.New("payload is not a RIFF/WAVE container")
	ErrUnsupportedFormat = errors.New("unsupported WAV sample format")
	ErrTruncated         = errors.New("truncated WAV payload")
)

const (
	wavHeaderSize = 44
	formatPCM     = 1
)

// PCM 16-bit 小端线性 PCM 音频。
type PCM struct {
	SampleRate int
	Channels   int
	Data       []byte
}

// Duration returns the playback length of the samples.
func (p PCM) Duration() time.Duration {
	frameSize := p.Channels * 2
	if p.SampleRate <= 0 || frameSize <= 0 {
		return 0
	}
	frames := len(p.Data) / frameSize
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// EncodeWAV 将 PCM 数据封装为 WAV 容器。
func EncodeWAV(p PCM) []byte {
	channels := p.Channels
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * 2
	byteRate := p.SampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(p.Data)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(p.Data)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(formatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(p.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(p.Data)))
	buf.Write(p.Data)

	return buf.Bytes()
}

// DecodeWAV 解析 WAV 容器，仅支持 16-bit PCM。
func DecodeWAV(data []byte) (PCM, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return PCM{}, ErrNotWAV
	}

	var (
		pcm       PCM
		haveFmt   bool
		offset    = 12
		bitsPer   uint16
		audioType uint16
	)

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := uint64(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		remaining := uint64(len(data) - body)

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return PCM{}, ErrTruncated
			}
			audioType = binary.LittleEndian.Uint16(data[body : body+2])
			pcm.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			pcm.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPer = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return PCM{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			if audioType != formatPCM || bitsPer != 16 || pcm.Channels <= 0 {
				return PCM{}, fmt.Errorf("%w: format=%d bits=%d channels=%d", ErrUnsupportedFormat, audioType, bitsPer, pcm.Channels)
			}
			// streaming writers leave the size unset, take what is there
			end := len(data)
			if size < remaining {
				end = body + int(size)
			}
			pcm.Data = data[body:end]
			return pcm, nil
		}

		// chunks are word aligned
		next := size + size%2
		if next > remaining {
			break
		}
		offset = body + int(next)
	}

	return PCM{}, ErrTruncated
}
