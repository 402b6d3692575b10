// Package tgui has small helpers for Telegram's HTML parse mode:
//   - H marks text as already escaped; the builders escape their input
//   - TruncRunes shortens text without splitting a rune
package tgui
