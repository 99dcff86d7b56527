package horoscope

import (
	"fmt"

	"github.com/zodiaclab/starledger/internal/tarot"
	"github.com/zodiaclab/starledger/pkg/billing"
)

// buildPrompt returns the model prompt for a validated request plus a
// preamble prepended to the completion. Only tarot uses the preamble:
// the drawn spread is part of the delivered content, not just prompt
// input, so the user sees the exact cards the interpretation covers.
func (client *Client) buildPrompt(kind billing.ServiceKind, params billing.Params) (prompt string, preamble string, err error) {
	switch kind {
	case billing.ServiceDailyHoroscope:
		sign := params.Get(billing.ParamSign)
		return fmt.Sprintf(
			"Write a short astrological forecast for the zodiac sign %s for today. "+
				"Be positive and encouraging, 100-150 words. Cover the overall mood of "+
				"the day, energy levels, one piece of advice, and one thing to watch out for.",
			sign,
		), "", nil
	case billing.ServiceWeeklyHoroscope:
		sign := params.Get(billing.ParamSign)
		return fmt.Sprintf(
			"Write a detailed astrological forecast for the zodiac sign %s for the "+
				"coming week. Structure it day by day, then summarize love, career, and "+
				"health for the week. 250-350 words, warm and professional in tone.",
			sign,
		), "", nil
	case billing.ServiceCompatibility:
		firstSign := params.Get(billing.ParamFirstSign)
		secondSign := params.Get(billing.ParamSecondSign)
		return fmt.Sprintf(
			"Analyze the astrological compatibility between %s and %s. Cover: overall "+
				"character of the pair, compatibility in love, in friendship, and in work, "+
				"strengths of the union, possible challenges, and recommendations for "+
				"harmony. Be objective, tactful, and professional. 250-300 words.",
			firstSign, secondSign,
		), "", nil
	case billing.ServiceTarot:
		spreadName := params.Get(billing.ParamSpread)
		spread, found := tarot.SpreadByName(spreadName)
		if !found {
			return "", "", fmt.Errorf("%w: unknown tarot spread %q", billing.ErrInvalidParams, spreadName)
		}
		drawn := client.deck.Draw(spread)
		spreadText := tarot.FormatSpread(drawn)
		question := params.Get(billing.ParamQuestion)
		questionLine := ""
		if question != "" {
			questionLine = fmt.Sprintf("The querent's question: %s\n", question)
		}
		prompt = fmt.Sprintf(
			"You are an experienced tarot reader. Interpret this %q spread:\n%s%s"+
				"Give a coherent reading that connects the cards, position by position, "+
				"and finish with overall guidance. 200-300 words.",
			spread.Title, spreadText, questionLine,
		)
		preamble = fmt.Sprintf("%s\n%s\n", spread.Title, spreadText)
		return prompt, preamble, nil
	case billing.ServiceNatalChart:
		return fmt.Sprintf(
			"Interpret a natal chart for a person born on %s at %s in %s. Cover the "+
				"likely sun sign and its meaning, character strengths and weaknesses, "+
				"tendencies in love and career, and life guidance. Be thoughtful and "+
				"specific, 300-400 words.",
			params.Get(billing.ParamBirthDate),
			params.Get(billing.ParamBirthTime),
			params.Get(billing.ParamBirthPlace),
		), "", nil
	}
	return "", "", fmt.Errorf("%w: unknown service kind %q", billing.ErrInvalidParams, kind)
}
