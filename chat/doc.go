// Package chat announces lower-thirds changes into the show's Twitch chat.
//
// The Announcer subscribes to the lower-thirds hub and posts a line whenever a
// performer goes on stage or is up next. Credentials are the bot username and
// an IRC OAuth token (chat:edit); when they are not configured the announcer
// is simply not started.
package chat
