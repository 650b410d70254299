// Package assistant answers short spoken questions about the current air quality.
package assistant

import (
	"fmt"
	"math"
	"strings"

	"github.com/kjstillabower/tempo-air-quality/internal/models"
)

// Intents recognised in an utterance.
const (
	IntentAirQuality = "air_quality"
	IntentMask       = "mask"
	IntentGreeting   = "greeting"
	IntentHelp       = "help"
)

// DefaultArea names the location when AirNow reports no reporting area.
const DefaultArea = "your area"

// maskThreshold is the AQI above which a mask is recommended outdoors.
const maskThreshold = 100

// Classify returns the intent of utterance. Matching is case-insensitive substring search.
func Classify(utterance string) string {
	t := strings.ToLower(utterance)
	switch {
	case strings.Contains(t, "air quality") || strings.Contains(t, "hava") || strings.Contains(t, "aqi"):
		return IntentAirQuality
	case strings.Contains(t, "mask"):
		return IntentMask
	case strings.Contains(t, "hello") || strings.Contains(t, "hey tempo"):
		return IntentGreeting
	default:
		return IntentHelp
	}
}

// Reply answers utterance for area given the current AQI and its advisory.
func Reply(utterance, area string, aqi *int, advisory string) models.AssistantReply {
	intent := Classify(utterance)
	r := models.AssistantReply{Query: utterance, Intent: intent, AQI: aqi}
	switch intent {
	case IntentAirQuality:
		r.Reply = Summary(area, aqi, advisory)
	case IntentMask:
		if aqi != nil && *aqi > maskThreshold {
			r.Reply = "Yes, wearing a mask outdoors is recommended."
		} else {
			r.Reply = "Mask is not necessary today."
		}
	case IntentGreeting:
		r.Reply = "Hello! Ask me about air quality, mask advice, or outdoor safety."
	default:
		r.Reply = "I can tell you air quality, mask advice, or outdoor safety."
	}
	return r
}

// Summary is the spoken one-line air quality report.
func Summary(area string, aqi *int, advisory string) string {
	if area == "" {
		area = DefaultArea
	}
	if aqi == nil {
		return fmt.Sprintf("Air quality data for %s is not available right now.", area)
	}
	return fmt.Sprintf("Air quality in %s is %d. %s", area, int(math.Round(float64(*aqi))), advisory)
}
