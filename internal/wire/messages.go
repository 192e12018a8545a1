package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/kingrea/codeforge/internal/interfaces"
	"github.com/kingrea/codeforge/internal/jobs"
)

var (
	// ErrUnknownMessage is returned when a payload carries no known variant.
	ErrUnknownMessage = errors.New("wire: unknown message")
	// ErrAmbiguousMessage is returned when a payload carries more than one variant.
	ErrAmbiguousMessage = errors.New("wire: message has more than one variant")
)

// Client to worker payloads.

type InitPrompt struct {
	Prompt string `json:"prompt"`
}

type AddInterface struct {
	Interface interfaces.Interface `json:"interface"`
}

type RemoveInterface struct {
	InterfaceName string `json:"interfaceName"`
}

type AddSchema struct {
	InterfaceName string `json:"interfaceName"`
	SchemaName    string `json:"schemaName"`
	Schema        string `json:"schema"`
}

type RemoveSchema struct {
	InterfaceName string `json:"interfaceName"`
	SchemaName    string `json:"schemaName"`
}

type StartJob struct {
	JobID string `json:"jobId"`
}

type StopJob struct {
	JobID string `json:"jobId"`
}

type RetryJob struct {
	JobID string `json:"jobId"`
}

type AddSourceFile struct {
	Filename string `json:"filename"`
	File     string `json:"file"`
}

type RemoveSourceFile struct {
	Filename string `json:"filename"`
}

type UpdateScaffold struct {
	Scaffold string `json:"scaffold"`
}

// ClientMsg is an externally tagged union: exactly one field is set and it
// encodes as {"<variant>": {...}}.
type ClientMsg struct {
	InitPrompt       *InitPrompt       `json:"initPrompt,omitempty"`
	AddInterface     *AddInterface     `json:"addInterface,omitempty"`
	RemoveInterface  *RemoveInterface  `json:"removeInterface,omitempty"`
	AddSchema        *AddSchema        `json:"addSchema,omitempty"`
	RemoveSchema     *RemoveSchema     `json:"removeSchema,omitempty"`
	StartJob         *StartJob         `json:"startJob,omitempty"`
	StopJob          *StopJob          `json:"stopJob,omitempty"`
	RetryJob         *RetryJob         `json:"retryJob,omitempty"`
	AddSourceFile    *AddSourceFile    `json:"addSourceFile,omitempty"`
	RemoveSourceFile *RemoveSourceFile `json:"removeSourceFile,omitempty"`
	UpdateScaffold   *UpdateScaffold   `json:"updateScaffold,omitempty"`
}

// Kind returns the tag of the populated variant.
func (m ClientMsg) Kind() string { return kindOf(m) }

// Validate checks that exactly one variant is set.
func (m ClientMsg) Validate() error { return validateUnion(m) }

// Worker to client payloads.

type UpdateJobQueue struct {
	Jobs *jobs.JobSet `json:"jobs"`
}

type CreateFile struct {
	Filename string `json:"filename"`
}

type BeginStream struct {
	Filename string `json:"filename"`
}

type StreamToken struct {
	Token string `json:"token"`
}

type EndStream struct{}

type InitPromptAck struct {
	Success bool `json:"success"`
}

type AddSchemaAck struct {
	SchemaName string `json:"schemaName"`
	Success    bool   `json:"success"`
}

type AddInterfaceAck struct {
	InterfaceName string `json:"interfaceName"`
	Success       bool   `json:"success"`
}

// CommandAck confirms a command that has no dedicated ack.
type CommandAck struct {
	Command string `json:"command"`
}

// Error kinds carried by CommandError.
const (
	ErrorInvalidTransition = "invalidTransition"
	ErrorNotFound          = "notFound"
	ErrorInvalidCommand    = "invalidCommand"
	ErrorStateConflict     = "stateConflict"
)

type CommandError struct {
	Command string `json:"command"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type JobFailed struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

// ServerMsg is the worker-side counterpart of ClientMsg.
type ServerMsg struct {
	UpdateJobQueue  *UpdateJobQueue  `json:"updateJobQueue,omitempty"`
	CreateFile      *CreateFile      `json:"createFile,omitempty"`
	BeginStream     *BeginStream     `json:"beginStream,omitempty"`
	StreamToken     *StreamToken     `json:"streamToken,omitempty"`
	EndStream       *EndStream       `json:"endStream,omitempty"`
	InitPromptAck   *InitPromptAck   `json:"initPromptAck,omitempty"`
	AddSchemaAck    *AddSchemaAck    `json:"addSchemaAck,omitempty"`
	AddInterfaceAck *AddInterfaceAck `json:"addInterfaceAck,omitempty"`
	CommandAck      *CommandAck      `json:"commandAck,omitempty"`
	CommandError    *CommandError    `json:"commandError,omitempty"`
	JobFailed       *JobFailed       `json:"jobFailed,omitempty"`
}

// Kind returns the tag of the populated variant.
func (m ServerMsg) Kind() string { return kindOf(m) }

// Validate checks that exactly one variant is set.
func (m ServerMsg) Validate() error { return validateUnion(m) }

// EncodeClient marshals a client message after validating it.
func EncodeClient(m ClientMsg) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeClient parses and validates a client payload.
func DecodeClient(payload []byte) (ClientMsg, error) {
	var m ClientMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return ClientMsg{}, fmt.Errorf("wire: decode client message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return ClientMsg{}, err
	}
	return m, nil
}

// EncodeServer marshals a server message after validating it.
func EncodeServer(m ServerMsg) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// DecodeServer parses and validates a server payload.
func DecodeServer(payload []byte) (ServerMsg, error) {
	var m ServerMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return ServerMsg{}, fmt.Errorf("wire: decode server message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return ServerMsg{}, err
	}
	return m, nil
}

// kindOf and validateUnion walk the pointer fields of a union struct and
// read the variant tag from the json struct tag.
func kindOf(union any) string {
	tags := populated(union)
	if len(tags) != 1 {
		return ""
	}
	return tags[0]
}

func validateUnion(union any) error {
	switch tags := populated(union); len(tags) {
	case 1:
		return nil
	case 0:
		return ErrUnknownMessage
	default:
		return fmt.Errorf("%w: %v", ErrAmbiguousMessage, tags)
	}
}

func populated(union any) []string {
	v := reflect.ValueOf(union)
	t := v.Type()
	var tags []string
	for i := 0; i < t.NumField(); i++ {
		if v.Field(i).IsNil() {
			continue
		}
		tags = append(tags, tagName(t.Field(i)))
	}
	return tags
}

func tagName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	return tag
}

// SendClient encodes and frames a client message.
func (w *Writer) SendClient(m ClientMsg) error {
	payload, err := EncodeClient(m)
	if err != nil {
		return err
	}
	return w.WritePayload(payload)
}

// SendServer encodes and frames a server message.
func (w *Writer) SendServer(m ServerMsg) error {
	payload, err := EncodeServer(m)
	if err != nil {
		return err
	}
	return w.WritePayload(payload)
}
