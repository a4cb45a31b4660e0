// Package tgui holds small helpers for Telegram HTML messages: escaped
// fragments and a line-oriented card builder for status replies.
package tgui
