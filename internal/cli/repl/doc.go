// Package repl provides the line-oriented shell behind `sharemesh shell`.
//
// A REPL dispatches each input line to a registered Command by its first
// word. The built-in commands help, history, exit and quit are always
// available; unknown commands get completion suggestions.
package repl
