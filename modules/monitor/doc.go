// Package monitor records message activity of allowed chats.
//
// New messages are cached and journaled as received. Edits and deletions are
// journaled only for cached messages, using the cached text as the prior
// content, because the transport never resends what a message used to say.
// Every handler failure, panics included, is written to the journal error sink
// and never stops the event stream.
package monitor
