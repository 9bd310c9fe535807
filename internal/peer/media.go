package peer

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	"github.com/zhouzirui/manomitra-client/pkg/audio"
)

// PlaceholderTranscriber stands in for a recognizer. Silent or empty
// captures yield an empty transcript.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Transcribe(_ context.Context, pcm audio.PCM) (string, float64, error) {
	if pcm.Duration() <= 0 || silent(pcm) {
		return "", 0, nil
	}
	return fmt.Sprintf("I spoke for %.1f seconds", pcm.Duration().Seconds()), 0.5, nil
}

func silent(pcm audio.PCM) bool {
	for i := 0; i+1 < len(pcm.Data); i += 2 {
		if int16(binary.LittleEndian.Uint16(pcm.Data[i:])) != 0 {
			return false
		}
	}
	return true
}

// ToneSynthesizer renders a short sine tone whose pitch follows the emotion
// and whose length follows the reply.
type ToneSynthesizer struct {
	SampleRate int
}

var emotionPitch = map[conversation.Emotion]float64{
	conversation.Happy:    523.25,
	conversation.Surprise: 587.33,
	conversation.Neutral:  440,
	conversation.Angry:    392,
	conversation.Disgust:  349.23,
	conversation.Fear:     329.63,
	conversation.Sad:      293.66,
}

const (
	perRune     = 40 * time.Millisecond
	maxSpeech   = 3 * time.Second
	toneVolume  = 0.2
	defaultRate = 16000
)

func (t ToneSynthesizer) Synthesize(_ context.Context, text string, emotion conversation.Emotion, _ protocol.Language) (audio.PCM, error) {
	rate := t.SampleRate
	if rate <= 0 {
		rate = defaultRate
	}
	pitch, ok := emotionPitch[emotion]
	if !ok {
		pitch = emotionPitch[conversation.Neutral]
	}

	length := min(time.Duration(utf8.RuneCountInString(text))*perRune, maxSpeech)
	frames := int(length.Seconds() * float64(rate))
	data := make([]byte, frames*2)
	for i := range frames {
		value := toneVolume * math.Sin(2*math.Pi*pitch*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(value*math.MaxInt16)))
	}
	return audio.PCM{SampleRate: rate, Channels: 1, Data: data}, nil
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
