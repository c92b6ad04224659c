package quality

import "github.com/attunehq/attune/pkg/emotion"

// fallbacks is the scripted response library. Every entry is multi-sentence,
// ends in one open question, and passes the gate by construction. Keys are
// the coarse fallback taxonomy, not raw classifier labels; use
// [FallbackFor] to resolve a label.
var fallbacks = map[string]string{
	"anxiety": "I can sense the anxiety in what you've shared, and I want you to know that these feelings are completely understandable. Anxiety often shows up when we care deeply about something or when we're facing uncertainty. You're being incredibly brave by reaching out and talking about this. What aspect of this anxiety feels most overwhelming to you right now?",

	"nervousness": "I can sense the nervousness in what you've shared, and I want you to know that these feelings are completely understandable. Nervousness often shows up when we care deeply about something or when we're facing uncertainty. You're being incredibly brave by reaching out and talking about this. What aspect of this nervousness feels most overwhelming to you right now?",

	"depression": "Thank you for trusting me with what you've shared. I can hear how much you're struggling right now, and I want you to know that your pain is real and valid. Depression can make everything feel so much heavier. You've shown tremendous courage by reaching out today. What feels most important for you to talk about in this moment?",

	"sadness": "I can hear the sadness in your words, and I want to acknowledge how brave you are for sharing these feelings with me. Sadness is such a natural human emotion, even though it can feel overwhelming. You don't have to carry this alone. What's been weighing most heavily on your heart?",

	"stress": "It sounds like you're carrying a tremendous amount right now, and feeling stressed is such a natural response to everything you're managing. When we're overwhelmed like this, it can be hard to see a clear path forward. Let's take this one step at a time together. What feels like the most pressing concern for you today?",

	"anger": "I can sense the frustration and anger in what you've shared, and those feelings make complete sense given what you're experiencing. Anger often tells us that something important to us has been threatened or hurt. Your feelings are valid, and I'm here to help you work through this. What do you think might be underneath this anger?",

	"fear": "I can sense the fear you're experiencing, and I want you to know that feeling afraid is completely understandable given what you're going through. Fear often shows up when we're facing something uncertain or threatening. You're safe here with me. What aspects of this situation feel most frightening to you?",

	"joy": "I can hear the joy in what you're sharing, and it's wonderful to see you experiencing these positive feelings! Joy and happiness are such important emotions to celebrate. I'm curious about what's bringing you this sense of joy - would you like to share more about what's contributing to these good feelings?",

	"admiration": "I can sense the positive feelings you're experiencing, and it's wonderful to hear about what's bringing you fulfillment. These positive emotions are just as important to explore as challenging ones. I'm curious about what's creating these good feelings for you - would you like to share more about what's contributing to this sense of admiration or appreciation?",

	"general": "Thank you for sharing what's on your mind with me. Whatever you're going through right now, I want you to know that your feelings and experiences are important and valid. I'm here to listen and support you through this. What would feel most helpful to explore together right now?",
}

// FallbackFor returns the scripted reply for an emotion label. Labels
// without a dedicated script resolve to the general entry.
func FallbackFor(label emotion.Label) string {
	if text, ok := fallbacks[string(label)]; ok {
		return text
	}
	return fallbacks[emotion.FallbackKey(label)]
}

// FallbackByKey returns the script for a raw library key (the coarse
// taxonomy used on the wire), falling back to general for unknown keys.
func FallbackByKey(key string) string {
	if text, ok := fallbacks[key]; ok {
		return text
	}
	return fallbacks["general"]
}

// FallbackKeys lists the library's closed key set in no particular order.
func FallbackKeys() []string {
	out := make([]string, 0, len(fallbacks))
	for k := range fallbacks {
		out = append(out, k)
	}
	return out
}
