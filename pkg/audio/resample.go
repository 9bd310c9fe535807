package audio

import "encoding/binary"

// Resample converts p to targetRate, playing speed times faster. Linear
// interpolation is enough for synthesized speech.
func Resample(p PCM, targetRate int, speed float64) PCM {
	if speed <= 0 {
		speed = 1
	}
	channels := max(p.Channels, 1)
	if targetRate <= 0 || p.SampleRate <= 0 {
		return p
	}

	ratio := float64(p.SampleRate) * speed / float64(targetRate)
	if ratio == 1 {
		return PCM{SampleRate: targetRate, Channels: channels, Data: p.Data}
	}

	frames := len(p.Data) / (2 * channels)
	outFrames := int(float64(frames) / ratio)
	out := make([]byte, outFrames*2*channels)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		left := int(pos)
		frac := pos - float64(left)
		right := min(left+1, frames-1)

		for ch := 0; ch < channels; ch++ {
			a := sample(p.Data, left*channels+ch)
			b := sample(p.Data, right*channels+ch)
			v := float64(a) + (float64(b)-float64(a))*frac
			putSample(out, i*channels+ch, int16(v))
		}
	}

	return PCM{SampleRate: targetRate, Channels: channels, Data: out}
}

// Remix converts p to the given channel count by averaging or duplicating.
func Remix(p PCM, channels int) PCM {
	from := max(p.Channels, 1)
	if channels <= 0 || channels == from {
		return p
	}

	frames := len(p.Data) / (2 * from)
	out := make([]byte, frames*2*channels)
	for i := 0; i < frames; i++ {
		var sum int
		for ch := 0; ch < from; ch++ {
			sum += int(sample(p.Data, i*from+ch))
		}
		mono := int16(sum / from)
		for ch := 0; ch < channels; ch++ {
			putSample(out, i*channels+ch, mono)
		}
	}

	return PCM{SampleRate: p.SampleRate, Channels: channels, Data: out}
}

func sample(data []byte, index int) int16 {
	return int16(binary.LittleEndian.Uint16(data[index*2:]))
}

func putSample(data []byte, index int, value int16) {
	binary.LittleEndian.PutUint16(data[index*2:], uint16(value))
}
