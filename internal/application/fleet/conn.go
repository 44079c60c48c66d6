package fleet

// Conn is the slice of a websocket connection the hub uses. Satisfied by
// *websocket.Conn from gorilla; tests substitute scripted fakes.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}
