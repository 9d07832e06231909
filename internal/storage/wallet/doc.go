// Package wallet persists the per-user game wallet together with the turn
// flags (in_progress, in_game). Records live in memory or in a SQL database
// (MySQL, SQLite or PostgreSQL) and the SQL store doubles as a lease locker
// built on a conditional UPDATE.
package wallet
