package agent

import (
	"iter"
	"strings"
)

// fallbackPattern maps message keywords to a canned reply, used only when
// the OpenClaw invocation fails outright.
type fallbackPattern struct {
	keywords []string
	reply    string
}

var fallbackPatterns = []fallbackPattern{
	{
		keywords: []string{"mint", "faucet"},
		reply:    "I can't reach the AI strategist right now, but you can mint test USDC yourself: ask me again in a moment, or call the faucet from the dashboard's Funds tab.",
	},
	{
		keywords: []string{"balance", "how much"},
		reply:    "I'm offline from the strategist, so I can't look up balances right now. Your USDC balance is shown at the top of the dashboard.",
	},
	{
		keywords: []string{"create", "market", "new market"},
		reply:    "Market creation needs the AI strategist, which is unreachable at the moment. Please try again shortly; your request wasn't lost.",
	},
	{
		keywords: []string{"buy", "bet", "shares", "yes", "no"},
		reply:    "I can't place trades while the strategist is offline. Once it's back, tell me the market and the side (YES or NO) and I'll prepare the trade.",
	},
	{
		keywords: []string{"resolve"},
		reply:    "Market resolution is unavailable while the strategist is offline. Try again in a few minutes.",
	},
	{
		keywords: []string{"redeem", "winnings", "claim"},
		reply:    "I can't process redemptions right now. Your winnings stay claimable on-chain; try again shortly.",
	},
	{
		keywords: []string{"help", "what can you do"},
		reply:    "Normally I can create prediction markets, buy YES/NO shares, approve and mint test USDC, resolve markets, and redeem winnings. The AI strategist is currently unreachable, so only this basic help works.",
	},
	{
		keywords: []string{"hello", "hi ", "hey"},
		reply:    "Hello! I'm running in basic mode because the AI strategist is unreachable. Ask me again in a moment for full functionality.",
	},
}

const fallbackApology = "Sorry, I'm having trouble reaching the AI strategist right now. Please try again in a few minutes."

// FallbackEngine produces degraded keyword-matched responses without any
// network or process calls.
type FallbackEngine struct{}

// NewFallbackEngine creates the keyword responder.
func NewFallbackEngine() *FallbackEngine {
	return &FallbackEngine{}
}

// PatternCount returns the number of keyword patterns.
func (f *FallbackEngine) PatternCount() int {
	return len(fallbackPatterns)
}

// Respond matches the message against the keyword patterns and yields a
// single Message. It never fails: any internal problem collapses to a
// generic apology.
func (f *FallbackEngine) Respond(message string) iter.Seq[*Response] {
	return func(yield func(*Response) bool) {
		reply := fallbackApology
		func() {
			defer func() {
				if r := recover(); r != nil {
					reply = fallbackApology
				}
			}()
			reply = matchFallback(message)
		}()
		yield(Message(reply))
	}
}

func matchFallback(message string) string {
	lowered := strings.ToLower(message)
	for _, p := range fallbackPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(lowered, kw) {
				return p.reply
			}
		}
	}
	return fallbackApology
}
