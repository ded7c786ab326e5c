package bus

// Stream and subject names for the event log.
const (
	// StreamName is the persisted stream carrying alert and dispatch events.
	StreamName = "events"

	// SubjectAlertRaised is the inbound subject for patient alerts.
	SubjectAlertRaised = "patient.alert.raised"

	// SubjectDispatchCreated and SubjectDispatchAssigned carry outbound
	// dispatch lifecycle events.
	SubjectDispatchCreated  = "dispatch.created"
	SubjectDispatchAssigned = "dispatch.assigned"

	// DurableConsumer is the named cursor the pipeline consumes through.
	DurableConsumer = "dispatch-service-alert-consumer"
)

// StreamSubjects returns the subject set bound to the events stream.
func StreamSubjects() []string {
	return []string{SubjectAlertRaised, "dispatch.*"}
}
