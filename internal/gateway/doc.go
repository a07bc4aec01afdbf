// Package gateway exposes the turn engine over HTTP.
//
// POST /api/chat submits a turn and streams its progress as Server-Sent
// Events: a started event carrying the chat and turn IDs, then nodes,
// generating, collapsed, and related events as the turn's channels update,
// and finally a done event. The turn itself runs detached from the request,
// so a dropped connection never aborts an in-flight turn.
//
// The remaining endpoints manage stored conversations: listing, fetching,
// deleting, clearing, and sharing. Sharing marks a chat readable by anyone
// holding its /api/share/{id} link.
//
// Authentication is optional bearer-token JWT. Anonymous callers can chat;
// their turns are simply not persisted. History endpoints require a session.
package gateway
