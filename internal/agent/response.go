package agent

import (
	"encoding/json"

	"github.com/propfolio/researchd/internal/dispatch"
	"github.com/propfolio/researchd/pkg/models"
)

// NewResponseTarget builds the dispatch target for agent turns, primed with
// one tool-using exemplar and one final-answer exemplar.
func NewResponseTarget() (*dispatch.Target[models.AgentResponse], error) {
	return dispatch.NewTarget(
		models.AgentResponse{
			Reasoning:  "The user asked about recent sales near the property. I should search for comparable listings first.",
			UserAnswer: "Let me look up recent comparable sales in the area.",
			IsFinal:    false,
			Actions: []models.ToolChoice{
				{
					Name:       "web_search",
					Parameters: json.RawMessage(`{"query": "recent home sales 12 Elm St"}`),
				},
			},
		},
		models.AgentResponse{
			Reasoning:  "I have gathered enough information to answer the question directly.",
			UserAnswer: "Based on three comparable sales, the property is likely worth between $840k and $880k.",
			Title:      "Comparable sales valuation",
			IsFinal:    true,
			Actions:    []models.ToolChoice{},
		},
	)
}
