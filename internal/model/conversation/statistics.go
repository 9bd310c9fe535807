package conversation

import "time"

// Statistics is derived from the turn log on demand and never stored.
type Statistics struct {
	TotalUserTurns   int             `json:"totalUserTurns"`
	TotalAgentTurns  int             `json:"totalAgentTurns"`
	SpeechTurns      int             `json:"speechTurns"`
	TextTurns        int             `json:"textTurns"`
	EmotionsObserved []Emotion       `json:"emotionsObserved"`
	EmotionCounts    map[Emotion]int `json:"emotionCounts"`
	DominantEmotion  Emotion         `json:"dominantEmotion"`
	DurationSeconds  float64         `json:"durationSeconds"`
	StartedAt        time.Time       `json:"startedAt"`
	FirstTurnAt      *time.Time      `json:"firstTurnAt,omitempty"`
	LastTurnAt       *time.Time      `json:"lastTurnAt,omitempty"`
}

// Summarize computes statistics over turns for a session that began at startedAt.
func Summarize(turns []Turn, startedAt, now time.Time) Statistics {
	stats := Statistics{
		EmotionsObserved: []Emotion{},
		EmotionCounts:    make(map[Emotion]int),
		DominantEmotion:  Neutral,
		StartedAt:        startedAt,
	}

	seen := make(map[Emotion]bool)
	for _, turn := range turns {
		switch turn.Sender {
		case SenderUser:
			stats.TotalUserTurns++
			stats.EmotionCounts[turn.Emotion]++
			if turn.Modality == ModalitySpeech {
				stats.SpeechTurns++
			} else {
				stats.TextTurns++
			}
		case SenderAgent:
			stats.TotalAgentTurns++
		}
		seen[turn.Emotion] = true
	}

	// Vocabulary order keeps the output stable.
	best := 0
	for _, tag := range Vocabulary {
		if seen[tag] {
			stats.EmotionsObserved = append(stats.EmotionsObserved, tag)
		}
		if count := stats.EmotionCounts[tag]; count > best {
			best = count
			stats.DominantEmotion = tag
		}
	}

	if len(turns) > 0 {
		first := turns[0].Timestamp
		last := turns[len(turns)-1].Timestamp
		stats.FirstTurnAt = &first
		stats.LastTurnAt = &last
	}

	if elapsed := now.Sub(startedAt).Seconds(); elapsed > 0 {
		stats.DurationSeconds = elapsed
	}
	return stats
}
