// Package tgui holds the Telegram HTML helpers shared by message rendering
// and command replies: escaping, a few tags, links, hashtags and rune-safe
// truncation. Values of type H are already escaped for ParseMode="HTML".
package tgui
