// Package ws implements the live document stream of the ingest sink.
//
// Hub keeps a cursor (a document ULID) per connected client and, on every
// tick, sends the documents stored after it that the client may see: its
// own tenant's, or all of them for a supertenant. Clients reconnect without
// gaps by passing the last cursor as ?since=.
//
// Message format sent to clients:
//
//	{
//	  "event":  "documents",
//	  "cursor": "01J...",
//	  "data":   [ /* hits, same schema as the search API */ ]
//	}
//
// The first message is sent on connect, even when empty. The upgrader
// accepts all origins; the endpoint is mounted at /ws/stream behind the
// tenant credential middleware.
package ws
