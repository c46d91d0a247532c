// Package router classifies prompts into model-task intents with a
// confidence score and a generation parameter preset.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/armansaberi/prism/config"
)

// Intent is the routed model-task category.
type Intent string

const (
	IntentText  Intent = "text"
	IntentCode  Intent = "code"
	IntentImage Intent = "image"
)

// Params is the generation preset suggested for the routed intent.
type Params struct {
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	Steps         int     `json:"steps,omitempty"`
	GuidanceScale float64 `json:"guidance_scale,omitempty"`
	Width         int     `json:"width,omitempty"`
	Height        int     `json:"height,omitempty"`
}

// Decision is the routing verdict for one request. It is created fresh
// per request and never persisted.
type Decision struct {
	Intent     Intent  `json:"model_type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Params     Params  `json:"suggested_parameters"`
}

// presets per intent. Code runs cool for reproducible snippets; image
// parameters mirror common diffusion defaults.
var presets = map[Intent]Params{
	IntentText:  {Temperature: 0.7, MaxTokens: 2000},
	IntentCode:  {Temperature: 0.3, MaxTokens: 3000, TopP: 0.9},
	IntentImage: {Steps: 30, GuidanceScale: 7.5, Width: 512, Height: 512},
}

// Signal weights. A strong pattern pairs an action verb with a concrete
// artifact; weak patterns are lone domain keywords.
const (
	strongWeight = 0.5
	weakWeight   = 0.2
)

type ruleSet struct {
	strong []*regexp.Regexp
	weak   []*regexp.Regexp
}

var codeRules = ruleSet{
	strong: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(write|create|implement|build|generate|fix|debug|refactor|optimi[sz]e)\b.{0,60}\b(function|method|class|script|program|code|algorithm|regex|query|test|module)\b`),
		regexp.MustCompile("```"),
		regexp.MustCompile(`(?i)\b(stack trace|traceback|compile error|syntax error|segfault)\b`),
	},
	weak: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(function|class|method|algorithm|variable|loop|array|string|recursion|api|sql|regex|bug|compile|runtime)\b`),
		regexp.MustCompile(`(?i)\b(python|javascript|typescript|golang|java|rust|c\+\+|bash|html|css)\b`),
	},
}

var imageRules = ruleSet{
	strong: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(draw|paint|sketch|render|illustrate|visuali[sz]e|generate|create|design)\b.{0,60}\b(image|picture|photo|illustration|drawing|painting|portrait|landscape|sunset|sunrise|logo|icon|scene|poster|avatar|wallpaper)\b`),
		regexp.MustCompile(`(?i)\b(an? (image|picture|photo|illustration) of)\b`),
	},
	weak: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(watercolor|oil painting|pixel art|photorealistic|4k|hdr|in the style of|concept art|digital art)\b`),
		regexp.MustCompile(`(?i)\b(image|picture|photo|illustration|drawing|painting)\b`),
	},
}

// Router scores prompts against the code and image rule sets. Anything
// without a dominant signal above the threshold is served as text,
// since misrouting to a specialized model wastes more than a generic
// answer.
type Router struct {
	threshold float64
}

// New creates a router with the configured confidence threshold.
func New(cfg config.RouterConfig) *Router {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.4
	}
	return &Router{threshold: threshold}
}

// Route classifies query. An explicit model override bypasses
// classification with confidence 1.0. Identical input always yields the
// identical decision.
func (r *Router) Route(query, override string) Decision {
	if override != "" {
		intent := Intent(strings.ToLower(strings.TrimSpace(override)))
		if _, ok := presets[intent]; !ok {
			intent = IntentText
		}
		return Decision{
			Intent:     intent,
			Confidence: 1.0,
			Reasoning:  "explicit-override",
			Params:     presets[intent],
		}
	}

	codeScore, codeStrong, codeWeak := score(codeRules, query)
	imageScore, imageStrong, imageWeak := score(imageRules, query)

	switch {
	case codeScore >= r.threshold && codeScore > imageScore:
		return Decision{
			Intent:     IntentCode,
			Confidence: codeScore,
			Reasoning:  fmt.Sprintf("matched %d strong and %d weak code signals", codeStrong, codeWeak),
			Params:     presets[IntentCode],
		}
	case imageScore >= r.threshold && imageScore > codeScore:
		return Decision{
			Intent:     IntentImage,
			Confidence: imageScore,
			Reasoning:  fmt.Sprintf("matched %d strong and %d weak image signals", imageStrong, imageWeak),
			Params:     presets[IntentImage],
		}
	default:
		return Decision{
			Intent:     IntentText,
			Confidence: 0.5,
			Reasoning:  "no dominant signal; defaulting to text",
			Params:     presets[IntentText],
		}
	}
}

func score(rules ruleSet, query string) (total float64, strong, weak int) {
	for _, re := range rules.strong {
		if re.MatchString(query) {
			strong++
		}
	}
	for _, re := range rules.weak {
		if re.MatchString(query) {
			weak++
		}
	}
	total = float64(strong)*strongWeight + float64(weak)*weakWeight
	if total > 1.0 {
		total = 1.0
	}
	return total, strong, weak
}
