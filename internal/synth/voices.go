package synth

import (
	"hash/fnv"
	"regexp"
	"sort"
	"strings"

	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// VoiceProfile is a named narrator.
type VoiceProfile struct {
	// Name is the Cloud TTS voice name, e.g. en-US-Neural2-F.
	Name         string
	Gender       texttospeechpb.SsmlVoiceGender
	Description  string
	SpeakingRate float64
	Pitch        float64
}

// LanguageCode derives the BCP-47 code from the voice name.
func (p VoiceProfile) LanguageCode() string {
	parts := strings.SplitN(p.Name, "-", 3)
	if len(parts) < 2 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

const (
	female = texttospeechpb.SsmlVoiceGender_FEMALE
	male   = texttospeechpb.SsmlVoiceGender_MALE
)

// DefaultVoice is used for unknown profile names.
const DefaultVoice = "captains-log"

// RandomVoice asks for a per-URL deterministic pick.
const RandomVoice = "random"

var VoiceProfiles = map[string]VoiceProfile{
	"captains-log":            {"en-US-Neural2-F", female, "Captain's Log (US English, Warm Narrative)", 0.98, -2.0},
	"deep-dive":               {"en-US-Studio-O", female, "Deep Dive (US Studio, Calm & Clear)", 0.95, -1.0},
	"first-mate":              {"en-GB-Neural2-B", male, "First Mate (UK English, Conversational)", 1.0, -1.0},
	"science-officer":         {"en-AU-Neural2-C", female, "Science Officer (AU English, Crisp)", 0.99, 0},
	"story-teller":            {"en-US-Studio-Q", male, "Story Teller (US Studio, Expressive)", 1.0, 0},
	"news-anchor":             {"en-US-Neural2-A", male, "News Anchor (US English, Authoritative)", 0.95, -2.0},
	"documentary":             {"en-GB-Neural2-D", male, "Documentary (UK English, Deep)", 0.9, -3.0},
	"field-reporter":          {"en-AU-Neural2-B", male, "Field Reporter (AU English, Clear)", 1.05, 0},
	"news-reader-indian":      {"en-IN-Neural2-A", female, "News Reader (Indian English, Professional)", 1.0, 0},
	"customer-service-indian": {"en-IN-Wavenet-D", male, "Customer Service (Indian English, Friendly)", 1.0, 0},
	"news-presenter-uk":       {"en-GB-News-G", female, "News Presenter (UK English, Authoritative)", 0.9, -1.0},
	"news-presenter-us":       {"en-US-News-N", female, "News Presenter (US English, Energetic)", 1.0, 0},
	"sensual-male":            {"en-US-Wavenet-J", male, "Sensual Male (US English, Soft)", 0.9, -4.0},
	"sensual-female":          {"en-US-Wavenet-H", female, "Sensual Female (US English, Soft)", 0.9, -2.0},
	"us-journey-female":       {"en-US-Journey-F", female, "Journey (US English, Female)", 1.0, 0},
	"us-journey-male":         {"en-US-Journey-M", male, "Journey (US English, Male)", 1.0, 0},
	"uk-news-male":            {"en-GB-News-J", male, "News (UK English, Male)", 1.0, 0},
	"au-news-female":          {"en-AU-News-E", female, "News (AU English, Female)", 1.0, 0},
	"in-wavenet-female":       {"en-IN-Wavenet-B", female, "Wavenet (Indian English, Female)", 1.0, 0},
}

// VoiceNames returns the profile names in sorted order.
func VoiceNames() []string {
	names := make([]string, 0, len(VoiceProfiles))
	for n := range VoiceProfiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// cloudVoiceName matches Cloud TTS voice names such as en-US-Neural2-F.
var cloudVoiceName = regexp.MustCompile(`^[a-z]{2,3}-[A-Z]{2}-[A-Za-z0-9-]+$`)

// ResolveVoice maps a configured voice to a profile name. Empty or "random"
// picks a profile from a hash of seed so reruns of the same URL keep their
// narrator. Native backend voices (OpenAI names like "onyx", Cloud TTS names
// like "en-US-Neural2-F") pass through; other unknown names fall back to
// DefaultVoice.
func ResolveVoice(name, seed string) string {
	name = strings.TrimSpace(name)
	if cloudVoiceName.MatchString(name) {
		return name
	}
	name = strings.ToLower(name)
	if name == "" || name == RandomVoice {
		names := VoiceNames()
		h := fnv.New32a()
		_, _ = h.Write([]byte(seed))
		return names[h.Sum32()%uint32(len(names))]
	}
	if _, ok := VoiceProfiles[name]; ok {
		return name
	}
	if openAIVoices[name] {
		return name
	}
	return DefaultVoice
}

// Profile returns the profile for name. A Cloud TTS voice name gets a plain
// profile for that voice; anything else unknown gets the default profile.
func Profile(name string) VoiceProfile {
	if p, ok := VoiceProfiles[name]; ok {
		return p
	}
	if cloudVoiceName.MatchString(name) {
		return VoiceProfile{Name: name, Description: name, SpeakingRate: 1}
	}
	return VoiceProfiles[DefaultVoice]
}
