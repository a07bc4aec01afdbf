// ABOUTME: Package chat holds the conversation data model and its two views
// ABOUTME: The persisted record is the source of truth; the projection is derived from it

package chat
