package tarot

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Card is a single tarot card with its upright and reversed meanings.
type Card struct {
	Name     string
	Upright  string
	Reversed string
}

// DrawnCard is a card placed at a spread position with an orientation.
type DrawnCard struct {
	Card
	Position   string
	IsReversed bool
}

// Meaning returns the reading for the card's orientation.
func (drawn DrawnCard) Meaning() string {
	if drawn.IsReversed {
		return drawn.Reversed
	}
	return drawn.Upright
}

// Spread defines a layout: one position name per drawn card.
type Spread struct {
	Name      string
	Title     string
	Positions []string
}

var spreads = map[string]Spread{
	"daily": {
		Name:      "daily",
		Title:     "Card of the Day",
		Positions: []string{"Advice of the day"},
	},
	"three": {
		Name:      "three",
		Title:     "Past, Present, Future",
		Positions: []string{"Past", "Present", "Future"},
	},
	"four": {
		Name:      "four",
		Title:     "Situation, Challenge, Advice, Outcome",
		Positions: []string{"Situation", "Challenge", "Advice", "Outcome"},
	},
	"celtic": {
		Name:  "celtic",
		Title: "Celtic Cross",
		Positions: []string{
			"Present situation",
			"Challenge or obstacle",
			"Unconscious influences",
			"Past that is fading",
			"Conscious goals",
			"Near future",
			"Your attitude to the situation",
			"Influence of surroundings",
			"Hopes and fears",
			"Final outcome",
		},
	},
}

// SpreadByName looks up a spread definition.
func SpreadByName(name string) (Spread, bool) {
	spread, found := spreads[strings.ToLower(strings.TrimSpace(name))]
	return spread, found
}

// AvailableSpreads lists the spread names presentation layers may offer.
func AvailableSpreads() []string {
	return []string{"daily", "three", "four", "celtic"}
}

// Deck is a full 78-card tarot deck with a private shuffle source. One
// deck serves all requests; the source is not safe for concurrent use,
// so Draw serializes access to it.
type Deck struct {
	cards  []Card
	mutex  sync.Mutex
	random *rand.Rand
}

// NewDeck builds a deck. A nil source seeds from the clock.
func NewDeck(random *rand.Rand) *Deck {
	if random == nil {
		random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Deck{cards: buildCards(), random: random}
}

// Draw deals one card per spread position without replacement,
// orienting each card upright or reversed at random.
func (deck *Deck) Draw(spread Spread) []DrawnCard {
	deck.mutex.Lock()
	defer deck.mutex.Unlock()
	indices := deck.random.Perm(len(deck.cards))
	drawn := make([]DrawnCard, 0, len(spread.Positions))
	for position, index := range indices[:len(spread.Positions)] {
		drawn = append(drawn, DrawnCard{
			Card:       deck.cards[index],
			Position:   spread.Positions[position],
			IsReversed: deck.random.Intn(2) == 1,
		})
	}
	return drawn
}

// FormatSpread renders a drawn spread as one line per position, the
// form handed to the content provider for interpretation.
func FormatSpread(cards []DrawnCard) string {
	var builder strings.Builder
	for _, card := range cards {
		orientation := "upright"
		if card.IsReversed {
			orientation = "reversed"
		}
		fmt.Fprintf(&builder, "%s: %s (%s): %s\n", card.Position, card.Name, orientation, card.Meaning())
	}
	return builder.String()
}

func buildCards() []Card {
	cards := []Card{
		{Name: "The Fool", Upright: "beginnings, innocence, spontaneity", Reversed: "recklessness, risk, immaturity"},
		{Name: "The Magician", Upright: "willpower, skill, concentration", Reversed: "manipulation, weak will, deceit"},
		{Name: "The High Priestess", Upright: "intuition, mystery, the subconscious", Reversed: "hidden motives, suppressed intuition"},
		{Name: "The Empress", Upright: "fertility, abundance, nature", Reversed: "dependence, wastefulness, inertia"},
		{Name: "The Emperor", Upright: "authority, structure, control", Reversed: "tyranny, rigidity, domination"},
		{Name: "The Hierophant", Upright: "tradition, spirituality, learning", Reversed: "dogmatism, intolerance, repression"},
		{Name: "The Lovers", Upright: "love, harmony, choice", Reversed: "disharmony, infidelity, indecision"},
		{Name: "The Chariot", Upright: "victory, control, progress", Reversed: "lack of direction, aggression, stagnation"},
		{Name: "Strength", Upright: "willpower, courage, compassion", Reversed: "weakness, self-doubt, cruelty"},
		{Name: "The Hermit", Upright: "introspection, solitude, wisdom", Reversed: "loneliness, isolation, refusing help"},
		{Name: "Wheel of Fortune", Upright: "destiny, turning point, cycles", Reversed: "misfortune, resisting change, stagnation"},
		{Name: "Justice", Upright: "justice, karma, balance", Reversed: "unfairness, irresponsibility, bias"},
		{Name: "The Hanged Man", Upright: "sacrifice, surrender, new perspective", Reversed: "martyrdom, stagnation, resistance"},
		{Name: "Death", Upright: "transformation, endings, rebirth", Reversed: "resisting change, fear, stagnation"},
		{Name: "Temperance", Upright: "balance, patience, harmony", Reversed: "imbalance, impatience, extremes"},
		{Name: "The Devil", Upright: "temptation, addiction, materialism", Reversed: "liberation, overcoming, self-control"},
		{Name: "The Tower", Upright: "sudden change, revelation, upheaval", Reversed: "resisting change, delay, avoidance"},
		{Name: "The Star", Upright: "hope, inspiration, spirituality", Reversed: "despair, pessimism, loss of faith"},
		{Name: "The Moon", Upright: "illusion, fear, the subconscious", Reversed: "awareness, overcoming fear, clarity"},
		{Name: "The Sun", Upright: "joy, success, vitality", Reversed: "temporary setbacks, delays, ego"},
		{Name: "Judgement", Upright: "rebirth, calling, forgiveness", Reversed: "doubt, refusing the call, self-criticism"},
		{Name: "The World", Upright: "completion, unity, achievement", Reversed: "incompleteness, stagnation, disconnection"},
	}
	suitMeanings := map[string][2]string{
		"Wands":     {"energy, creativity, action", "delay, lack of inspiration"},
		"Cups":      {"emotions, relationships, intuition", "emotional trouble, conflict"},
		"Swords":    {"intellect, conflict, truth", "hard decisions, mental strain"},
		"Pentacles": {"material matters, work, stability", "financial trouble, instability"},
	}
	ranks := []string{"Ace", "Two", "Three", "Four", "Five", "Six", "Seven", "Eight", "Nine", "Ten", "Page", "Knight", "Queen", "King"}
	for _, suit := range []string{"Wands", "Cups", "Swords", "Pentacles"} {
		meanings := suitMeanings[suit]
		for _, rank := range ranks {
			cards = append(cards, Card{
				Name:     fmt.Sprintf("%s of %s", rank, suit),
				Upright:  meanings[0],
				Reversed: meanings[1],
			})
		}
	}
	return cards
}
