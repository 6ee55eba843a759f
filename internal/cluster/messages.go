package cluster

import (
	"encoding/json"
	"fmt"
)

// MessageType tags the payload of an Envelope.
type MessageType string

const (
	// MsgRegister is sent once by a worker to every coordinator it discovers.
	MsgRegister MessageType = "register"
	// MsgWelcome carries one Fragment of the welcome blob.
	MsgWelcome MessageType = "welcome"
	// MsgAssignTask hands a Task to a worker.
	MsgAssignTask MessageType = "assign_task"
	// MsgHintResult reports the outcome of a hint task.
	MsgHintResult MessageType = "hint_result"
	// MsgPasswordResult reports the outcome of a password task.
	MsgPasswordResult MessageType = "password_result"
	// MsgShutdown tells a worker that all work is done.
	MsgShutdown MessageType = "shutdown"
)

// Envelope is the unit exchanged between coordinator and workers.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of type t. A nil payload
// produces an envelope without body.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the payload into out.
func (e Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}

// Register announces a worker to a coordinator.
type Register struct {
	Member Member `json:"member"`
}

// Fragment is one piece of a bulk payload.
type Fragment struct {
	TransferID string `json:"transfer_id"`
	Data       []byte `json:"data"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
}

// TaskKind is the search phase a task belongs to.
type TaskKind string

const (
	HintTask     TaskKind = "hint"
	PasswordTask TaskKind = "password"
)

// TaskKey identifies a task: one per record and phase.
type TaskKey struct {
	Kind     TaskKind `json:"kind"`
	RecordID int      `json:"record_id"`
}

func (k TaskKey) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.RecordID)
}

// Task is a unit of search work. Hint tasks carry the full alphabet and the
// hint digests, password tasks carry the reduced alphabet and the password
// digest. Length is the hint prefix length or the password length.
type Task struct {
	Kind         TaskKind `json:"kind"`
	Alphabet     string   `json:"alphabet"`
	PasswordHash string   `json:"password_hash,omitempty"`
	HintHashes   []string `json:"hint_hashes,omitempty"`
	RecordID     int      `json:"record_id"`
	Length       int      `json:"length"`
}

// Key returns the task's identity.
func (t Task) Key() TaskKey {
	return TaskKey{RecordID: t.RecordID, Kind: t.Kind}
}

// HintResult carries the decoded hints of a record, possibly fewer than it has
// hashed hints.
type HintResult struct {
	Hints    []string `json:"hints"`
	RecordID int      `json:"record_id"`
}

// PasswordResult carries a cracked password. Found is false when the search
// space was exhausted.
type PasswordResult struct {
	Password string `json:"password,omitempty"`
	RecordID int    `json:"record_id"`
	Found    bool   `json:"found"`
}
