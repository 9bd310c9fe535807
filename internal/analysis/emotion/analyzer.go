package emotion

import (
	"strings"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
)

// Decision 给出情绪识别结果以及置信度。
type Decision struct {
	Emotion    conversation.Emotion
	Confidence float64
	Score      int
}

var keywordBuckets = map[conversation.Emotion][]string{
	conversation.Happy: {
		"happy", "glad", "great", "wonderful", "awesome", "amazing", "love", "thanks", "thank you",
		"excited", "joy", "fantastic", "good news", "సంతోషం", "ఆనందం",
	},
	conversation.Sad: {
		"sad", "unhappy", "cry", "depressed", "lonely", "upset", "hurt", "lost", "miss", "tired of",
		"heartbroken", "down", "failed", "దుఃఖం", "బాధ",
	},
	conversation.Angry: {
		"angry", "furious", "rage", "mad", "annoyed", "pissed", "hate", "fed up", "frustrated", "కోపం",
	},
	conversation.Fear: {
		"afraid", "scared", "fear", "anxious", "worried", "nervous", "panic", "terrified", "భయం",
	},
	conversation.Surprise: {
		"wow", "surprised", "unexpected", "can't believe", "no way", "suddenly", "shocked", "ఆశ్చర్యం",
	},
	conversation.Disgust: {
		"disgusting", "gross", "disgusted", "revolting", "nasty", "sick of", "అసహ్యం",
	},
}

// exclamations lean towards surprise, a single one towards happiness
var punctuationBoost = map[conversation.Emotion]int{
	conversation.Happy:    2,
	conversation.Surprise: 2,
}

// Analyze 根据用户话语推断情绪标签，结果总在词表内且不会是 empathetic。
func Analyze(utterance string) Decision {
	decision := scoreText(utterance)
	if decision.Score == 0 {
		return Decision{Emotion: conversation.Neutral, Confidence: 0.5}
	}

	confidence := 0.5 + float64(decision.Score)/20
	if confidence > 0.95 {
		confidence = 0.95
	}
	decision.Confidence = confidence
	return decision
}

func scoreText(text string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Decision{Emotion: conversation.Neutral}
	}

	scores := make(map[conversation.Emotion]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}

	exclamations := strings.Count(text, "!")
	if exclamations > 1 {
		scores[conversation.Surprise] += exclamations * punctuationBoost[conversation.Surprise]
	} else if exclamations == 1 && scores[conversation.Happy] > 0 {
		scores[conversation.Happy] += punctuationBoost[conversation.Happy]
	}

	// vocabulary order breaks ties
	best := conversation.Neutral
	bestScore := 0
	for _, label := range conversation.Vocabulary {
		if s := scores[label]; s > bestScore {
			bestScore = s
			best = label
		}
	}

	return Decision{Emotion: best, Score: bestScore}
}
