// Package agent computes the replies for one user turn. A turn is either an
// explicit command (/start, /wallet, /play) or a free-form message handed to
// a chat model that may call the rock_paper_scissors_blink tool, which runs
// one game round on the player's behalf.
package agent
