// Package capy implements a Discord bot for running a student club.
//
// Members talk to the bot with prefixed text commands (`!events`,
// `!profile`, ...). Multi-step commands ask their questions through the
// prompt package, which waits for the member's reply or reaction and gives
// up after a timeout.
//
// Key components of the package include:
//
//   - Capy: The main struct, which wires the other components together and
//     runs them until its context is cancelled.
//   - Discord: The discordgo session and gateway handlers.
//   - commandRouter: Parses messages into commands, and applies per-user
//     rate limits and the one-prompt-per-user rule.
//   - scheduler: Sends event reminders to members who RSVP'd.
//   - API: A small read-only HTTP API for officers' tooling.
//   - DBI: Serialized database writes, for sqlite.
//
// The bot supports these commands:
//
//   - !ping: Reports the gateway heartbeat latency.
//   - !help: Lists commands.
//   - !events: Lists, creates, shows, announces, deletes and clears events.
//     Reactions on an announcement are RSVPs.
//   - !attendance: Lists who RSVP'd to an event.
//   - !profile: Creates, shows, updates and deletes a member's profile over DM.
//   - !settings: Lists and changes the server's channels and roles.
package capy
