// Package feedbackbus carries feedback and usage signals over NATS.
//
// Collaborators that finish a conversational turn publish a small JSON event
// and move on. A Subscriber in the knowd process consumes the events through
// a queue group, so each event is applied once no matter how many replicas
// are listening, and hands them to the effectiveness tracker.
//
// Subjects default to knowd.feedback and knowd.usage:
//
//	{"id":"...","tenant_id":"acme","domain":"insurance","document_id":"doc-1","verdict":"helpful"}
//	{"id":"...","tenant_id":"acme","domain":"insurance","document_id":"doc-1","relevance":0.82}
package feedbackbus
