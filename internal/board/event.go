package board

// EventKind discriminates the four domain event variants.
type EventKind string

const (
	KindTaskCreated     EventKind = "taskCreated"
	KindTaskUpdated     EventKind = "taskUpdated"
	KindTaskDeleted     EventKind = "taskDeleted"
	KindChatMessageSent EventKind = "receiveMessage"
)

// Event is the tagged variant broadcast to every session in a room. Concrete
// types are TaskCreated, TaskUpdated, TaskDeleted, and ChatMessageSent;
// consumers switch on the concrete type (or Kind) and the compiler keeps the
// switch honest.
//
// Events always carry the canonical post-persistence record, never the raw
// request payload.
type Event interface {
	Kind() EventKind
	Room() string
}

// TaskCreated announces a task inserted into the store.
type TaskCreated struct {
	Task Task
}

func (e TaskCreated) Kind() EventKind { return KindTaskCreated }
func (e TaskCreated) Room() string    { return e.Task.ProjectID }

// TaskUpdated announces a task whose fields changed.
type TaskUpdated struct {
	Task Task
}

func (e TaskUpdated) Kind() EventKind { return KindTaskUpdated }
func (e TaskUpdated) Room() string    { return e.Task.ProjectID }

// TaskDeleted announces a task removed from the store. Only the IDs survive
// deletion, so that is all the event carries.
type TaskDeleted struct {
	ProjectID string
	TaskID    string
}

func (e TaskDeleted) Kind() EventKind { return KindTaskDeleted }
func (e TaskDeleted) Room() string    { return e.ProjectID }

// ChatMessageSent announces a persisted chat message.
type ChatMessageSent struct {
	Message ChatMessage
}

func (e ChatMessageSent) Kind() EventKind { return KindChatMessageSent }
func (e ChatMessageSent) Room() string    { return e.Message.ProjectID }
