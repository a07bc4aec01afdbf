// ABOUTME: Package stream provides the incremental value primitive used by turns
// ABOUTME: One producer per stream, any number of observers, explicit terminal state

// Package stream implements a latest-value observable: a cell that one
// producer writes into and any number of observers watch. It backs the
// per-turn display projection and the isGenerating/isCollapsed signals.
package stream
