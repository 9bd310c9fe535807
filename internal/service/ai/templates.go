package ai

import (
	"context"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
)

type templateKey struct {
	emotion  conversation.Emotion
	language protocol.Language
}

var emotionResponses = map[templateKey][]string{
	{conversation.Happy, protocol.English}: {
		"That's wonderful to hear! I'm so glad you're feeling happy.",
		"Your joy is contagious! What's making you feel so positive?",
		"It's beautiful to see you in such good spirits!",
	},
	{conversation.Happy, protocol.Telugu}: {
		"అది వినడానికి చాలా బాగుంది! మీరు సంతోషంగా ఉన్నందుకు నేను చాలా సంతోషిస్తున్నాను.",
		"మీ ఆనందం అంటుకుంటుంది! మిమ్మల్ని ఇంత పాజిటివ్‌గా అనిపించేది ఏమిటి?",
		"మిమ్మల్ని ఇంత మంచి స్పిరిట్స్‌లో చూడటం అందంగా ఉంది!",
	},
	{conversation.Sad, protocol.English}: {
		"I can hear the sadness in your voice. I'm here to listen and support you.",
		"It's okay to feel sad sometimes. Would you like to talk about what's bothering you?",
		"I understand you're going through a difficult time. You don't have to face this alone.",
	},
	{conversation.Sad, protocol.Telugu}: {
		"మీ స్వరంలో దుఃఖం వినిపిస్తోంది. నేను వినడానికి మరియు మిమ్మల్ని సపోర్ట్ చేయడానికి ఇక్కడ ఉన్నాను.",
		"కొన్నిసార్లు దుఃఖంగా అనిపించడం సాధారణమే. మిమ్మల్ని బాధపెట్టేది గురించి మాట్లాడాలనుకుంటున్నారా?",
		"మీరు కష్టకాలం గడుపుతున్నారని నేను అర్థం చేసుకున్నాను. మీరు దీన్ని ఒంటరిగా ఎదుర్కోవాల్సిన అవసరం లేదు.",
	},
	{conversation.Angry, protocol.English}: {
		"I can sense your frustration. Take a deep breath, and let's work through this together.",
		"It sounds like something really upset you. I'm here to help you process these feelings.",
		"Your anger is valid. Sometimes we need to express these emotions to move forward.",
	},
	{conversation.Angry, protocol.Telugu}: {
		"మీ కోపం నేను గ్రహించగలుగుతున్నాను. లోతుగా శ్వాస తీసుకోండి, మరియు దీన్ని కలిసి పరిష్కరిస్తాం.",
		"ఏదో మిమ్మల్ని చాలా కలవరపెట్టినట్లు అనిపిస్తోంది. ఈ భావనలను ప్రాసెస్ చేయడంలో మీకు సహాయపడటానికి నేను ఇక్కడ ఉన్నాను.",
		"మీ కోపం సరైనది. కొన్నిసార్లు ముందుకు వెళ్లడానికి మనం ఈ భావోద్వేగాలను వ్యక్తం చేయాల్సి ఉంటుంది.",
	},
	{conversation.Fear, protocol.English}: {
		"I understand you're feeling scared or anxious. You're safe here, and we can talk through your concerns.",
		"Fear is a natural response. Let's explore what's causing these feelings together.",
		"It's brave of you to share your fears. I'm here to provide comfort and support.",
	},
	{conversation.Fear, protocol.Telugu}: {
		"మీరు భయంగా లేదా ఆందోళనగా అనిపిస్తున్నట్లు నేను అర్థం చేసుకున్నాను. మీరు ఇక్కడ సురక్షితంగా ఉన్నారు, మరియు మేము మీ ఆందోళనల గురించి మాట్లాడవచ్చు.",
		"భయం సహజ ప్రతిస్పందన. ఈ భావనలకు కారణమేమిటో కలిసి అన్వేషిద్దాం.",
		"మీ భయాలను పంచుకోవడం ధైర్యసాహసాలు. నేను ఓదార్పు మరియు మద్దతు అందించడానికి ఇక్కడ ఉన్నాను.",
	},
	{conversation.Neutral, protocol.English}: {
		"I'm here to chat with you. How are you feeling today?",
		"Thank you for sharing that with me. What would you like to talk about?",
		"I'm listening. Please tell me more about what's on your mind.",
	},
	{conversation.Neutral, protocol.Telugu}: {
		"నేను మీతో చాట్ చేయడానికి ఇక్కడ ఉన్నాను. ఈరోజు మీరు ఎలా అనిపిస్తున్నారు?",
		"దాన్ని నాతో పంచుకున్నందుకు ధన్యవాదాలు. మీరు దేని గురించి మాట్లాడాలనుకుంటున్నారు?",
		"నేను వింటున్నాను. మీ మనసులో ఉన్న దాని గురించి మరింత చెప్పండి.",
	},
	{conversation.Surprise, protocol.English}: {
		"That sounds unexpected! I'd love to hear more about what surprised you.",
		"Wow, that must have been quite a moment! Tell me more about it.",
		"Surprises can be exciting or overwhelming. How are you processing this?",
	},
	{conversation.Surprise, protocol.Telugu}: {
		"అది ఊహించనిది అనిపిస్తోంది! మిమ్మల్ని ఆశ్చర్యపరిచిన దాని గురించి మరింత వినాలనుకుంటున్నాను.",
		"వావ్, అది చాలా గొప్ప క్షణం అయి ఉండాలి! దాని గురించి మరింత చెప్పండి.",
		"ఆశ్చర్యాలు ఉత్తేజకరమైనవి లేదా అధికంగా అనిపించవచ్చు. మీరు దీన్ని ఎలా ప్రాసెస్ చేస్తున్నారు?",
	},
	{conversation.Disgust, protocol.English}: {
		"I can sense your discomfort with this situation. Your feelings are completely valid.",
		"That sounds really unpleasant. I'm sorry you had to experience that.",
		"It's natural to feel disgusted by certain things. Let's talk about how to move forward.",
	},
	{conversation.Disgust, protocol.Telugu}: {
		"ఈ పరిస్థితితో మీ అసౌకర్యం నేను గ్రహించగలుగుతున్నాను. మీ భావనలు పూర్తిగా సరైనవి.",
		"అది నిజంగా అసహ్యకరంగా అనిపిస్తోంది. మీరు దాన్ని అనుభవించినందుకు నన్ను క్షమించండి.",
		"కొన్ని విషయాలతో అసహ్యం అనిపించడం సహజం. ముందుకు ఎలా వెళ్లాలో మాట్లాడుకుందాం.",
	},
}

var supportPrefix = map[protocol.Language]string{
	protocol.English: "As we've been talking, I can see that ",
	protocol.Telugu:  "మేము మాట్లాడుతున్నప్పుడు, నేను చూడగలుగుతున్నాను ",
}

var fallbackResponses = map[protocol.Language]string{
	protocol.English: "I'm here to listen and support you. Could you please try again?",
	protocol.Telugu:  "నేను వినడానికి మరియు మిమ్మల్ని సపోర్ట్ చేయడానికి ఇక్కడ ఉన్నాను. దయచేసి మళ్లీ ప్రయత్నించగలరా?",
}

// TemplateResponder answers from a fixed bank of empathetic replies,
// rotating through the candidates for each emotion.
type TemplateResponder struct {
	mu   sync.Mutex
	next map[templateKey]int
}

// NewTemplateResponder creates a responder that needs no model.
func NewTemplateResponder() *TemplateResponder {
	return &TemplateResponder{next: make(map[templateKey]int)}
}

// Reply picks a template for the emotion and language of req.
func (r *TemplateResponder) Reply(_ context.Context, req Request) (string, error) {
	language := req.Language
	if _, ok := supportPrefix[language]; !ok {
		language = protocol.English
	}

	key := templateKey{req.Emotion, language}
	candidates, ok := emotionResponses[key]
	if !ok {
		key = templateKey{conversation.Neutral, language}
		candidates = emotionResponses[key]
	}

	r.mu.Lock()
	index := r.next[key]
	r.next[key] = (index + 1) % len(candidates)
	r.mu.Unlock()

	reply := candidates[index]
	if emotionShifted(req) {
		reply = supportPrefix[language] + lowerFirst(reply)
	}
	return reply, nil
}

// FallbackResponse is used when reply generation fails.
func FallbackResponse(language protocol.Language) string {
	if reply, ok := fallbackResponses[language]; ok {
		return reply
	}
	return fallbackResponses[protocol.English]
}

// emotionShifted reports whether the last three user emotions, the current one included, differ.
func emotionShifted(req Request) bool {
	recent := []conversation.Emotion{req.Emotion}
	for i := len(req.History) - 1; i >= 0 && len(recent) < 3; i-- {
		recent = append(recent, req.History[i].Emotion)
	}
	for _, emotion := range recent[1:] {
		if emotion != recent[0] {
			return true
		}
	}
	return false
}

func lowerFirst(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError || !unicode.IsUpper(r) || strings.HasPrefix(text, "I ") || strings.HasPrefix(text, "I'") {
		return text
	}
	return string(unicode.ToLower(r)) + text[size:]
}
