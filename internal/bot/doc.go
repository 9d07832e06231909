// Package bot connects the Telegram chat transport to the turn pipeline:
// updates become inbox messages, and each message is answered inside a
// TurnGuard turn.
package bot
