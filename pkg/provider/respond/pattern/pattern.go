// Package pattern implements respond.Provider without model weights: it
// selects a scripted therapeutic reply by emotion and lightly personalises
// it from the user's wording. It always reports SourceFallback, and serves
// both as a deployment option for constrained hosts and as the terminal
// rung of the backend fallback chain.
package pattern

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	"github.com/attunehq/attune/internal/quality"
	"github.com/attunehq/attune/pkg/emotion"
	"github.com/attunehq/attune/pkg/provider/respond"
	"github.com/attunehq/attune/pkg/types"
)

// variants holds three scripts per library key, ordered from most
// comprehensive to most inquiring.
var variants = map[string][]string{
	"anxiety": {
		"I can sense the anxiety in what you've shared, and I want you to know that these feelings are completely understandable. Anxiety often shows up when we care deeply about something or when we're facing uncertainty. You're being incredibly brave by reaching out and talking about this. What aspect of this anxiety feels most overwhelming to you right now?",
		"Thank you for sharing these anxious feelings with me. It takes courage to acknowledge anxiety, and I want you to know that what you're experiencing is valid. Anxiety can feel overwhelming, but you don't have to face it alone. What situations or thoughts tend to trigger these feelings most for you?",
		"I hear the anxiety in your words, and I want to acknowledge how difficult it must be to carry these feelings. Anxiety has a way of making everything feel more intense and uncertain. You've taken an important step by reaching out. What would feel most supportive for you right now as we work through this together?",
	},
	"nervousness": {
		"I can sense the nervousness you're experiencing, and I want you to know that these feelings are completely understandable. Nervousness often appears when we're facing something important or uncertain. You're showing real courage by sharing this with me. What aspects of this nervousness feel most challenging for you?",
		"Thank you for trusting me with these feelings of nervousness. It's natural to feel this way when we're stepping into unknown territory or facing something significant. Your willingness to talk about it shows strength. What do you think might be underneath these nervous feelings?",
		"I can hear the nervousness in what you've shared, and I want to validate that these feelings make complete sense. Sometimes nervousness is our mind's way of preparing us for something important. You're safe here to explore these feelings. What would help you feel more grounded right now?",
	},
	"depression": {
		"Thank you for trusting me with what you've shared. I can hear how much you're struggling right now, and I want you to know that your pain is real and valid. Depression can make everything feel so much heavier. You've shown tremendous courage by reaching out today. What feels most important for you to talk about in this moment?",
		"I'm honored that you've shared these difficult feelings with me. Depression can make the world feel so much darker, and I want you to know that what you're experiencing is real and significant. You don't have to carry this alone. What has been the hardest part of this experience for you?",
		"I can sense the weight you're carrying, and I want to acknowledge how brave you are for being here and sharing this with me. Depression can make even the smallest tasks feel overwhelming. You matter, and your feelings matter. What would feel most helpful for us to focus on today?",
	},
	"sadness": {
		"I can hear the sadness in your words, and I want to acknowledge how brave you are for sharing these feelings with me. Sadness is such a natural human emotion, even though it can feel overwhelming. You don't have to carry this alone. What's been weighing most heavily on your heart?",
		"Thank you for allowing me to witness your sadness. It takes courage to be vulnerable with these deep feelings. Sadness often tells us that something meaningful is at stake. I'm here to sit with you in this difficulty. What would feel most comforting for you right now?",
		"I can sense the sadness you're carrying, and I want you to know that these feelings are completely valid. Sometimes sadness is how we honor what matters to us. You're not alone in this. What aspects of this sadness feel most important for us to explore together?",
	},
	"stress": {
		"It sounds like you're carrying a tremendous amount right now, and feeling stressed is such a natural response to everything you're managing. When we're overwhelmed like this, it can be hard to see a clear path forward. Let's take this one step at a time together. What feels like the most pressing concern for you today?",
		"I can hear how much stress you're experiencing, and I want to acknowledge how challenging it must be to manage everything on your plate. Stress often shows up when we're juggling more than feels manageable. You're not alone in this. What aspects of this stress feel most overwhelming right now?",
		"Thank you for sharing about the stress you're feeling. It sounds like you're dealing with a lot, and it makes complete sense that you'd feel overwhelmed. Sometimes when we're stressed, it helps to focus on what we can control. What feels most urgent for you to address first?",
	},
	"anger": {
		"I can sense the frustration and anger in what you've shared, and those feelings make complete sense given what you're experiencing. Anger often tells us that something important to us has been threatened or hurt. Your feelings are valid, and I'm here to help you work through this. What do you think might be underneath this anger?",
		"Thank you for sharing these angry feelings with me. Anger can be such a powerful emotion, and it often carries important information about our boundaries and values. I want to understand what's driving these feelings. What situation or experience has contributed most to this anger?",
		"I can hear the anger in what you've shared, and I want you to know that these feelings are completely understandable. Anger often shows up when we feel powerless or when something we care about is at risk. You're safe to express these feelings here. What would feel most helpful as we explore this together?",
	},
	"fear": {
		"I can sense the fear you're experiencing, and I want you to know that feeling afraid is completely understandable given what you're going through. Fear often shows up when we're facing something uncertain or threatening. You're safe here with me. What aspects of this situation feel most frightening to you?",
		"Thank you for sharing these fearful feelings with me. It takes courage to acknowledge fear, and I want you to know that what you're experiencing is valid. Fear can be overwhelming, but you don't have to face it alone. What thoughts or situations tend to trigger these feelings most for you?",
		"I hear the fear in your words, and I want to acknowledge how difficult it must be to carry these feelings. Fear has a way of making everything feel more dangerous and uncertain. You've taken an important step by reaching out. What would help you feel more secure right now?",
	},
	"joy": {
		"I can hear the joy in what you're sharing, and it's wonderful to see you experiencing these positive feelings! Joy and happiness are such important emotions to celebrate. I'm curious about what's bringing you this sense of joy - would you like to share more about what's contributing to these good feelings?",
		"It's beautiful to hear the joy in your voice. These positive emotions are just as important to explore and understand as challenging ones. I'm so glad you're experiencing this happiness. What aspects of your life or recent experiences are bringing you the most joy right now?",
		"I can sense the joy you're feeling, and it brings me happiness to hear about your positive experiences. Joy can be such a powerful and healing emotion. What has been most meaningful about these joyful moments for you?",
	},
	"admiration": {
		"I can sense the positive feelings you're experiencing, and it's wonderful to hear about what's bringing you fulfillment. These positive emotions are just as important to explore as challenging ones. I'm curious about what's creating these good feelings for you - would you like to share more about what's contributing to this sense of admiration or appreciation?",
		"It's lovely to hear about the admiration you're feeling. These moments of appreciation and positive recognition can be so meaningful. What or who has inspired these feelings of admiration in you recently?",
		"I can hear the positive energy in what you're sharing, and it's wonderful that you're experiencing these feelings of admiration. These emotions often reflect our values and what we find meaningful. What aspects of this experience resonate most deeply with you?",
	},
	"general": {
		"Thank you for sharing what's on your mind with me. Whatever you're going through right now, I want you to know that your feelings and experiences are important and valid. I'm here to listen and support you through this. What would feel most helpful to explore together right now?",
		"I appreciate you taking the time to open up and share with me. It shows strength and self-awareness to reach out when we need support. I'm here to listen without judgment and help you work through whatever you're experiencing. What's been on your mind lately?",
		"I'm glad you've reached out and shared what's on your mind. Your feelings and experiences matter deeply, and I want you to know that you're not alone in this. I'm here to provide support and understanding. What feels most pressing for you to talk about today?",
	},
}

// Provider is the scripted backend.
type Provider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ respond.Provider = (*Provider)(nil)

// New returns a pattern provider with the given variation seed. A fixed
// seed makes selection reproducible in tests.
func New(seed int64) *Provider {
	return &Provider{rng: rand.New(rand.NewSource(seed))}
}

// Respond selects a script for the emotion and personalises it. Very short
// inputs get the most comprehensive variant, questions get the most
// inquiring one, and anything else varies randomly.
func (p *Provider) Respond(ctx context.Context, req respond.Request) (types.ResponseCandidate, error) {
	if err := req.Validate(); err != nil {
		return types.ResponseCandidate{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.ResponseCandidate{}, err
	}

	scripts := variantsFor(req.Emotion)
	var text string
	switch {
	case len(req.UserInput) < 10:
		text = scripts[0]
	case strings.Contains(req.UserInput, "?"):
		text = scripts[len(scripts)-1]
	default:
		p.mu.Lock()
		text = scripts[p.rng.Intn(len(scripts))]
		p.mu.Unlock()
	}
	text = personalize(text, req.UserInput)

	return types.ResponseCandidate{
		Text:    text,
		Source:  types.SourceFallback,
		Quality: quality.Assess(text, req.Emotion),
		ModelID: "pattern",
	}, nil
}

func variantsFor(label emotion.Label) []string {
	if v, ok := variants[string(label)]; ok {
		return v
	}
	if v, ok := variants[emotion.FallbackKey(label)]; ok {
		return v
	}
	return variants["general"]
}

// personalize rewrites a generic clause toward the life area the user
// mentioned. At most one substitution applies.
func personalize(text, userInput string) string {
	lower := strings.ToLower(userInput)
	switch {
	case strings.Contains(lower, "work") || strings.Contains(lower, "job"):
		return strings.Replace(text, "you're experiencing", "you're experiencing in your work life", 1)
	case strings.Contains(lower, "family") || strings.Contains(lower, "relationship"):
		return strings.Replace(text, "you're going through", "you're going through in your relationships", 1)
	case strings.Contains(lower, "school") || strings.Contains(lower, "study"):
		return strings.Replace(text, "you're facing", "you're facing in your studies", 1)
	}
	return text
}

// Name implements respond.Provider.
func (p *Provider) Name() string { return "pattern" }

// Ready always holds; the scripts are compiled in.
func (p *Provider) Ready() bool { return true }
