// Package tgui lays out notification text for chat and mail channels:
//   - HTML escaping helpers safe for Telegram ParseMode="HTML"
//   - A line builder that renders the same layout as HTML or plain text
//   - Rune-safe truncation
//
// Only tags Telegram accepts are emitted (b, i, code, a); line breaks are "\n".
package tgui
