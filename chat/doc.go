// Package chat connects the bot to Twitch IRC and answers chat commands.
//
// Bot wraps the go-twitch-irc client: it joins TWITCH_CHANNEL, hands every
// PRIVMSG to the Router and posts the reply. Router is transport-free so it
// can be driven directly in tests. Commands start with "!" and are matched on
// the first word, case-insensitively:
//
//	!attendance  check-in count, last day and streak
//	!streak      current streak
//	!monthly     top check-ins for the current UTC month
//	!coins       coin balance
//	!coinboard   top coin holders
//	!wisdom      spend coins for a reading
//	!quiz        start a quiz (moderators and broadcaster only)
//	!gold        gold given
//	!goldtop     top gold givers
//
// Any other message is offered to the running quiz as an answer.
package chat
