package domain

import "sort"

type CardName string

const (
	Copper   CardName = "Copper"
	Silver   CardName = "Silver"
	Gold     CardName = "Gold"
	Estate   CardName = "Estate"
	Duchy    CardName = "Duchy"
	Province CardName = "Province"
	Curse    CardName = "Curse"

	Artisan     CardName = "Artisan"
	Bandit      CardName = "Bandit"
	Bureaucrat  CardName = "Bureaucrat"
	Cellar      CardName = "Cellar"
	Chapel      CardName = "Chapel"
	CouncilRoom CardName = "Council Room"
	Festival    CardName = "Festival"
	Gardens     CardName = "Gardens"
	Harbinger   CardName = "Harbinger"
	Laboratory  CardName = "Laboratory"
	Library     CardName = "Library"
	Market      CardName = "Market"
	Merchant    CardName = "Merchant"
	Militia     CardName = "Militia"
	Mine        CardName = "Mine"
	Moat        CardName = "Moat"
	Moneylender CardName = "Moneylender"
	Poacher     CardName = "Poacher"
	Remodel     CardName = "Remodel"
	Sentry      CardName = "Sentry"
	Smithy      CardName = "Smithy"
	ThroneRoom  CardName = "Throne Room"
	Vassal      CardName = "Vassal"
	Village     CardName = "Village"
	Witch       CardName = "Witch"
	Workshop    CardName = "Workshop"
)

type CardType string

const (
	TypeAction   CardType = "action"
	TypeTreasure CardType = "treasure"
	TypeVictory  CardType = "victory"
	TypeCurse    CardType = "curse"
	TypeAttack   CardType = "attack"
	TypeReaction CardType = "reaction"
)

// Card is the static printed data of a card. Effects live in the cards package.
type Card struct {
	Name  CardName   `json:"name"`
	Cost  int        `json:"cost"`
	Types []CardType `json:"types"`
	Coins int        `json:"coins,omitempty"`
	VP    int        `json:"vp,omitempty"`
}

func (c Card) Is(t CardType) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

var catalogue = map[CardName]Card{
	Copper:   {Name: Copper, Cost: 0, Types: []CardType{TypeTreasure}, Coins: 1},
	Silver:   {Name: Silver, Cost: 3, Types: []CardType{TypeTreasure}, Coins: 2},
	Gold:     {Name: Gold, Cost: 6, Types: []CardType{TypeTreasure}, Coins: 3},
	Estate:   {Name: Estate, Cost: 2, Types: []CardType{TypeVictory}, VP: 1},
	Duchy:    {Name: Duchy, Cost: 5, Types: []CardType{TypeVictory}, VP: 3},
	Province: {Name: Province, Cost: 8, Types: []CardType{TypeVictory}, VP: 6},
	Curse:    {Name: Curse, Cost: 0, Types: []CardType{TypeCurse}, VP: -1},

	Cellar:      {Name: Cellar, Cost: 2, Types: []CardType{TypeAction}},
	Chapel:      {Name: Chapel, Cost: 2, Types: []CardType{TypeAction}},
	Moat:        {Name: Moat, Cost: 2, Types: []CardType{TypeAction, TypeReaction}},
	Harbinger:   {Name: Harbinger, Cost: 3, Types: []CardType{TypeAction}},
	Merchant:    {Name: Merchant, Cost: 3, Types: []CardType{TypeAction}},
	Vassal:      {Name: Vassal, Cost: 3, Types: []CardType{TypeAction}},
	Village:     {Name: Village, Cost: 3, Types: []CardType{TypeAction}},
	Workshop:    {Name: Workshop, Cost: 3, Types: []CardType{TypeAction}},
	Bureaucrat:  {Name: Bureaucrat, Cost: 4, Types: []CardType{TypeAction, TypeAttack}},
	Gardens:     {Name: Gardens, Cost: 4, Types: []CardType{TypeVictory}},
	Militia:     {Name: Militia, Cost: 4, Types: []CardType{TypeAction, TypeAttack}},
	Moneylender: {Name: Moneylender, Cost: 4, Types: []CardType{TypeAction}},
	Poacher:     {Name: Poacher, Cost: 4, Types: []CardType{TypeAction}},
	Remodel:     {Name: Remodel, Cost: 4, Types: []CardType{TypeAction}},
	Smithy:      {Name: Smithy, Cost: 4, Types: []CardType{TypeAction}},
	ThroneRoom:  {Name: ThroneRoom, Cost: 4, Types: []CardType{TypeAction}},
	Bandit:      {Name: Bandit, Cost: 5, Types: []CardType{TypeAction, TypeAttack}},
	CouncilRoom: {Name: CouncilRoom, Cost: 5, Types: []CardType{TypeAction}},
	Festival:    {Name: Festival, Cost: 5, Types: []CardType{TypeAction}},
	Laboratory:  {Name: Laboratory, Cost: 5, Types: []CardType{TypeAction}},
	Library:     {Name: Library, Cost: 5, Types: []CardType{TypeAction}},
	Market:      {Name: Market, Cost: 5, Types: []CardType{TypeAction}},
	Mine:        {Name: Mine, Cost: 5, Types: []CardType{TypeAction}},
	Sentry:      {Name: Sentry, Cost: 5, Types: []CardType{TypeAction}},
	Witch:       {Name: Witch, Cost: 5, Types: []CardType{TypeAction, TypeAttack}},
	Artisan:     {Name: Artisan, Cost: 6, Types: []CardType{TypeAction}},
}

var basicCards = []CardName{Copper, Silver, Gold, Estate, Duchy, Province, Curse}

// Lookup returns the printed data for a card name.
func Lookup(name CardName) (Card, bool) {
	c, ok := catalogue[name]
	return c, ok
}

// MustCard is Lookup for names known at compile time.
func MustCard(name CardName) Card {
	c, ok := catalogue[name]
	if !ok {
		panic("unknown card " + string(name))
	}
	return c
}

func IsType(name CardName, t CardType) bool {
	c, ok := catalogue[name]
	return ok && c.Is(t)
}

func CostOf(name CardName) int {
	return catalogue[name].Cost
}

// AllCards lists every catalogue entry, sorted by name.
func AllCards() []CardName {
	out := make([]CardName, 0, len(catalogue))
	for name := range catalogue {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func BasicCards() []CardName {
	return append([]CardName(nil), basicCards...)
}

// KingdomCards lists the cards that may be chosen as kingdom piles.
func KingdomCards() []CardName {
	var out []CardName
	for _, name := range AllCards() {
		if !isBasic(name) {
			out = append(out, name)
		}
	}
	return out
}

func isBasic(name CardName) bool {
	for _, b := range basicCards {
		if b == name {
			return true
		}
	}
	return false
}

// StartingDeck is the ten cards every player begins with.
func StartingDeck() []CardName {
	deck := make([]CardName, 0, 10)
	for i := 0; i < 7; i++ {
		deck = append(deck, Copper)
	}
	for i := 0; i < 3; i++ {
		deck = append(deck, Estate)
	}
	return deck
}

// SupplyFor computes pile sizes for a player count and kingdom.
func SupplyFor(players int, kingdom []CardName) map[CardName]int {
	victory := 8
	if players > 2 {
		victory = 12
	}
	supply := map[CardName]int{
		Copper:   60 - 7*players,
		Silver:   40,
		Gold:     30,
		Estate:   victory,
		Duchy:    victory,
		Province: victory,
	}
	// Solo tables have no Curse pile.
	if players > 1 {
		supply[Curse] = 10 * (players - 1)
	}
	for _, k := range kingdom {
		if IsType(k, TypeVictory) {
			supply[k] = victory
			continue
		}
		supply[k] = 10
	}
	return supply
}

// FirstGame is the recommended opening kingdom.
var FirstGame = []CardName{Cellar, Market, Merchant, Militia, Mine, Moat, Remodel, Smithy, Village, Workshop}

// CountCards returns a multiset of the given cards.
func CountCards(cards []CardName) map[CardName]int {
	out := make(map[CardName]int, len(cards))
	for _, c := range cards {
		out[c]++
	}
	return out
}

// Distinct returns the unique cards in first-seen order.
func Distinct(cards []CardName) []CardName {
	seen := map[CardName]bool{}
	var out []CardName
	for _, c := range cards {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// ContainsAll reports whether want is a sub-multiset of have.
func ContainsAll(have, want []CardName) bool {
	counts := CountCards(have)
	for _, c := range want {
		if counts[c] == 0 {
			return false
		}
		counts[c]--
	}
	return true
}
