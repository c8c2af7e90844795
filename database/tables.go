package database

// Tables are migrated in order; referenced tables come first.
var Tables []interface{} = []interface{}{
	&User{},
	&Session{},
	&WorkspaceConnection{},
	&WorkspaceAssignment{},
	&ScheduledMessage{},
	&SecurityEvent{},
}
