package wire

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/actiongate/internal/protocol/frame"
	"github.com/danmuck/actiongate/internal/protocol/schema"
	"github.com/danmuck/actiongate/internal/protocol/tlv"
)

// Message is one typed action-protocol payload.
type Message interface {
	MessageType() uint32
	fields() []tlv.Field
}

// Hello opens a link; the client identifies itself.
type Hello struct {
	PeerID string
}

// HelloAck answers Hello with the server identity and its clock reading.
type HelloAck struct {
	PeerID      string
	ActionName  string
	TimestampNS uint64
}

type GoalRequest struct {
	GoalID     string
	ActionName string
	StampNS    uint64
	FrameID    string
	JointNames []string
	PointCount uint32
}

type GoalResponse struct {
	GoalID      string
	Accepted    bool
	TimestampNS uint64
}

type Feedback struct {
	GoalID  string
	StampNS uint64
	Status  string
}

type Result struct {
	GoalID    string
	Status    string
	ErrorCode uint32
	Message   string
}

type CancelRequest struct {
	GoalID string
}

type CancelResponse struct {
	GoalID     string
	ReturnCode uint32
}

// Publish carries one string message on a named topic. It is never acknowledged.
type Publish struct {
	Topic string
	Data  string
}

// Error is sent in place of a response when a request cannot be decoded or served.
type Error struct {
	Code    uint32
	Message string
}

func (Hello) MessageType() uint32          { return schema.MsgHello }
func (HelloAck) MessageType() uint32       { return schema.MsgHelloAck }
func (GoalRequest) MessageType() uint32    { return schema.MsgGoalRequest }
func (GoalResponse) MessageType() uint32   { return schema.MsgGoalResponse }
func (Feedback) MessageType() uint32       { return schema.MsgFeedback }
func (Result) MessageType() uint32         { return schema.MsgResult }
func (CancelRequest) MessageType() uint32  { return schema.MsgCancelRequest }
func (CancelResponse) MessageType() uint32 { return schema.MsgCancelResponse }
func (Publish) MessageType() uint32        { return schema.MsgPublish }
func (Error) MessageType() uint32          { return schema.MsgError }

func (e Error) Error() string {
	return fmt.Sprintf("wire: remote error code=%d message=%q", e.Code, e.Message)
}

func (m Hello) fields() []tlv.Field {
	return []tlv.Field{tlv.String(schema.FieldPeerID, m.PeerID)}
}

func (m HelloAck) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldPeerID, m.PeerID),
		tlv.String(schema.FieldActionName, m.ActionName),
		tlv.U64(schema.FieldTimestampNS, m.TimestampNS),
	}
}

func (m GoalRequest) fields() []tlv.Field {
	out := []tlv.Field{
		tlv.String(schema.FieldGoalID, m.GoalID),
		tlv.String(schema.FieldActionName, m.ActionName),
		tlv.U64(schema.FieldStampNS, m.StampNS),
		tlv.String(schema.FieldFrameID, m.FrameID),
		tlv.U32(schema.FieldPointCount, m.PointCount),
	}
	for _, name := range m.JointNames {
		out = append(out, tlv.String(schema.FieldJointName, name))
	}
	return out
}

func (m GoalResponse) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldGoalID, m.GoalID),
		tlv.Bool(schema.FieldAccepted, m.Accepted),
		tlv.U64(schema.FieldTimestampNS, m.TimestampNS),
	}
}

func (m Feedback) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldGoalID, m.GoalID),
		tlv.U64(schema.FieldStampNS, m.StampNS),
		tlv.String(schema.FieldGoalStatus, m.Status),
	}
}

func (m Result) fields() []tlv.Field {
	out := []tlv.Field{
		tlv.String(schema.FieldGoalID, m.GoalID),
		tlv.String(schema.FieldGoalStatus, m.Status),
		tlv.U32(schema.FieldErrorCode, m.ErrorCode),
	}
	if m.Message != "" {
		out = append(out, tlv.String(schema.FieldMessage, m.Message))
	}
	return out
}

func (m CancelRequest) fields() []tlv.Field {
	return []tlv.Field{tlv.String(schema.FieldGoalID, m.GoalID)}
}

func (m CancelResponse) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldGoalID, m.GoalID),
		tlv.U32(schema.FieldReturnCode, m.ReturnCode),
	}
}

func (m Publish) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldTopic, m.Topic),
		tlv.String(schema.FieldData, m.Data),
	}
}

func (m Error) fields() []tlv.Field {
	return []tlv.Field{
		tlv.U32(schema.FieldErrorCode, m.Code),
		tlv.String(schema.FieldMessage, m.Message),
	}
}

// Encode validates msg against its schema and returns one framed message.
func Encode(messageID uint64, msg Message, response bool) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("wire: nil message")
	}
	fields := msg.fields()
	if err := schema.Validate(msg.MessageType(), fields); err != nil {
		return nil, err
	}
	var flags uint32
	if response {
		flags |= frame.FlagIsResponse
	}
	if _, ok := msg.(Error); ok {
		flags |= frame.FlagIsError
	}
	var buf bytes.Buffer
	err := frame.WriteFrame(&buf, frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: msg.MessageType(),
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMessage encodes msg and writes it to w in a single Write call.
func WriteMessage(w io.Writer, messageID uint64, msg Message, response bool) error {
	payload, err := Encode(messageID, msg, response)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one frame and decodes it.
func ReadMessage(r io.Reader) (frame.Frame, Message, error) {
	fr, err := frame.ReadFrame(r, frame.DefaultLimits())
	if err != nil {
		return frame.Frame{}, nil, err
	}
	msg, err := Decode(fr)
	if err != nil {
		return fr, nil, err
	}
	return fr, msg, nil
}

// Decode validates the frame payload and returns the typed message.
func Decode(f frame.Frame) (Message, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return nil, err
	}
	d := decoder{fields: fields}
	var msg Message
	switch f.Header.MessageType {
	case schema.MsgHello:
		msg = Hello{PeerID: d.str(schema.FieldPeerID)}
	case schema.MsgHelloAck:
		msg = HelloAck{
			PeerID:      d.str(schema.FieldPeerID),
			ActionName:  d.str(schema.FieldActionName),
			TimestampNS: d.u64(schema.FieldTimestampNS),
		}
	case schema.MsgGoalRequest:
		msg = GoalRequest{
			GoalID:     d.str(schema.FieldGoalID),
			ActionName: d.str(schema.FieldActionName),
			StampNS:    d.u64(schema.FieldStampNS),
			FrameID:    d.str(schema.FieldFrameID),
			JointNames: d.strs(schema.FieldJointName),
			PointCount: d.u32(schema.FieldPointCount),
		}
	case schema.MsgGoalResponse:
		msg = GoalResponse{
			GoalID:      d.str(schema.FieldGoalID),
			Accepted:    d.boolean(schema.FieldAccepted),
			TimestampNS: d.u64(schema.FieldTimestampNS),
		}
	case schema.MsgFeedback:
		msg = Feedback{
			GoalID:  d.str(schema.FieldGoalID),
			StampNS: d.u64(schema.FieldStampNS),
			Status:  d.str(schema.FieldGoalStatus),
		}
	case schema.MsgResult:
		msg = Result{
			GoalID:    d.str(schema.FieldGoalID),
			Status:    d.str(schema.FieldGoalStatus),
			ErrorCode: d.u32(schema.FieldErrorCode),
			Message:   d.str(schema.FieldMessage),
		}
	case schema.MsgCancelRequest:
		msg = CancelRequest{GoalID: d.str(schema.FieldGoalID)}
	case schema.MsgCancelResponse:
		msg = CancelResponse{
			GoalID:     d.str(schema.FieldGoalID),
			ReturnCode: d.u32(schema.FieldReturnCode),
		}
	case schema.MsgPublish:
		msg = Publish{Topic: d.str(schema.FieldTopic), Data: d.str(schema.FieldData)}
	case schema.MsgError:
		msg = Error{Code: d.u32(schema.FieldErrorCode), Message: d.str(schema.FieldMessage)}
	default:
		return nil, fmt.Errorf("wire: unhandled message_type=%d", f.Header.MessageType)
	}
	if d.err != nil {
		return nil, d.err
	}
	return msg, nil
}

// decoder keeps the first conversion error so Decode can read fields in one pass.
type decoder struct {
	fields []tlv.Field
	err    error
}

func (d *decoder) str(id uint16) string {
	f, _ := tlv.GetField(d.fields, id)
	return string(f.Value)
}

func (d *decoder) strs(id uint16) []string {
	list := tlv.GetFields(d.fields, id)
	out := make([]string, 0, len(list))
	for _, f := range list {
		out = append(out, strings.TrimSpace(string(f.Value)))
	}
	return out
}

func (d *decoder) u32(id uint16) uint32 {
	f, _ := tlv.GetField(d.fields, id)
	v, err := tlv.U32FromBytes(f.Value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func (d *decoder) u64(id uint16) uint64 {
	f, _ := tlv.GetField(d.fields, id)
	v, err := tlv.U64FromBytes(f.Value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func (d *decoder) boolean(id uint16) bool {
	f, _ := tlv.GetField(d.fields, id)
	v, err := tlv.BoolFromBytes(f.Value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

// TimeToNS converts t to unix nanoseconds; the zero time encodes as 0.
func TimeToNS(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func TimeFromNS(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns))
}
