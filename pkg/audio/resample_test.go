package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ramp(frames int) []byte {
	data := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		putSample(data, i, int16(i*100))
	}
	return data
}

func TestResampleSpeedHalvesLength(t *testing.T) {
	in := PCM{SampleRate: 16000, Channels: 1, Data: ramp(1600)}

	out := Resample(in, 16000, 2.0)

	assert.Equal(t, 16000, out.SampleRate)
	assert.Len(t, out.Data, 800*2)
	assert.Equal(t, int16(200), sample(out.Data, 1))
}

func TestResampleUpsamplesInterpolating(t *testing.T) {
	in := PCM{SampleRate: 8000, Channels: 1, Data: ramp(4)}

	out := Resample(in, 16000, 1.0)

	assert.Len(t, out.Data, 8*2)
	assert.Equal(t, int16(0), sample(out.Data, 0))
	assert.Equal(t, int16(50), sample(out.Data, 1))
	assert.Equal(t, int16(100), sample(out.Data, 2))
}

func TestResampleIdentity(t *testing.T) {
	in := PCM{SampleRate: 16000, Channels: 1, Data: ramp(10)}
	assert.Equal(t, in.Data, Resample(in, 16000, 1).Data)
}

func TestRemix(t *testing.T) {
	mono := PCM{SampleRate: 16000, Channels: 1, Data: ramp(3)}

	stereo := Remix(mono, 2)
	assert.Equal(t, 2, stereo.Channels)
	assert.Len(t, stereo.Data, 12)
	assert.Equal(t, sample(stereo.Data, 2), sample(stereo.Data, 3))

	back := Remix(stereo, 1)
	assert.Equal(t, mono.Data, back.Data)
}
