package mqtt

import (
	"fmt"

	"github.com/sweeney/thermostat/internal/config"
	"github.com/sweeney/thermostat/internal/logger"
)

// ConfigSubmitter accepts transport-encoded configuration updates.
type ConfigSubmitter interface {
	SubmitText(text, source string) config.UpdateResult
}

// Update sources, as reported in logs.
const (
	SourcePush           = "push"
	SourceStatusResponse = "statusResponse"
)

// SubscribeConfig routes configuration pushes and status responses to sub.
// Handlers run on the MQTT client's goroutines.
func SubscribeConfig(link Link, topics Topics, sub ConfigSubmitter, log *logger.Logger) error {
	for _, s := range []struct {
		topic, source string
	}{
		{topics.Config, SourcePush},
		{topics.Response, SourceStatusResponse},
	} {
		source := s.source
		err := link.Subscribe(s.topic, func(payload []byte) {
			result := sub.SubmitText(string(payload), source)
			log.Infow("configuration received", "source", source, "result", result.String())
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	}
	return nil
}
