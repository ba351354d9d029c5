// Package chat is the transport boundary of the bot.
//
// Transports deliver inbound messages tagged with the sender's Identity and
// accept outbound sends of plain text with optional markup:
//   - TwitchTransport: whispers to and from the bot account over Twitch IRC.
//   - TelegramTransport: private chats with a Telegram bot (long polling).
//
// Identities are "local@domain[/resource]". The domain names the transport
// ("twitch", "telegram") so Mux can route replies; the resource carries a
// connection detail such as the Telegram chat id. Only messages of type
// "chat" with a non-empty body are handed to the Handler.
package chat
