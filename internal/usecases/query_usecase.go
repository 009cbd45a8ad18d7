package usecases

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lmoreira/aquaflow/internal/entities"
	"github.com/lmoreira/aquaflow/internal/integration/openai"
)

// SetOpenAIService attaches the natural-language interpreter. The monitor
// binary sets it; the collector runs without one and free-text queries get
// a plain fallback reply.
func (uc *FlowUseCase) SetOpenAIService(service openai.OpenAIService) {
	uc.openAIService = service
}

// HandleNaturalLanguageQuery interprets a user's free-text query using the
// AI service and returns an appropriate response string.
func (uc *FlowUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	if uc.openAIService == nil {
		return "I only understand commands right now. Use /help to see what I can do.", nil
	}

	log.Printf("Interpreting natural language query: %s", query)

	agentResp, err := uc.openAIService.InterpretUserQuery(ctx, query)
	if err != nil {
		log.Printf("Error interpreting user query via OpenAI: %v", err)
		// Return a generic error message for the user
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	log.Printf("Agent response: Command='%s', Period='%s', Message='%s'",
		agentResp.CommandName, agentResp.Period, agentResp.UserMessage)

	// Process the agent's response
	switch agentResp.CommandName {
	case "GetUsageSummary":
		summary, err := uc.SummarizePeriod(agentResp.Period)
		if err != nil {
			log.Printf("Error summarizing period after agent interpretation: %v", err)
			summary, err = uc.SummarizePeriod("today")
			if err != nil {
				return "Sorry, I couldn't compute your usage right now.", nil
			}
		}
		msg := agentResp.UserMessage
		if msg != "" {
			msg += "\n\n"
		}
		label := agentResp.Period
		if label == "" {
			label = "today"
		}
		msg += uc.FormatSummary(label, summary)
		return msg, nil

	case "GetForecast":
		forecasts, err := uc.GetForecasts(entities.ModelMovingAverage)
		if err != nil {
			log.Printf("Error fetching forecasts after agent interpretation: %v", err)
			return "Sorry, I couldn't fetch the forecast right now.", nil
		}
		msg := agentResp.UserMessage
		if msg != "" {
			msg += "\n\n"
		}
		msg += uc.FormatForecasts(forecasts)
		return msg, nil

	case "GetLeakEvents":
		events, err := uc.GetLeakEvents(time.Now().AddDate(0, 0, -7))
		if err != nil {
			log.Printf("Error fetching leak events after agent interpretation: %v", err)
			return "Sorry, I couldn't check for leaks right now.", nil
		}
		msg := agentResp.UserMessage
		if msg != "" {
			msg += "\n\n"
		}
		if len(events) == 0 {
			msg += "No leak events in the last 7 days. 🎉"
		} else {
			msg += fmt.Sprintf("%d leak event(s) in the last 7 days:\n\n", len(events))
			for _, ev := range events {
				msg += uc.FormatLeakEvent(ev) + "\n\n"
			}
		}
		return msg, nil

	case "GeneralQuery":
		// Agent determined it's a general query, just return the generated message
		log.Printf("Agent identified general query.")
		return agentResp.UserMessage, nil

	default:
		// Fallback if agent returns an unexpected command or empty response
		log.Printf("Agent returned unexpected command: %s", agentResp.CommandName)
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}
