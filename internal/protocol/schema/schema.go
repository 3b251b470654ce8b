package schema

import (
	"fmt"

	"github.com/danmuck/actiongate/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs from the action wire contract.
const (
	MsgHello          uint32 = 1
	MsgHelloAck       uint32 = 2
	MsgGoalRequest    uint32 = 3
	MsgGoalResponse   uint32 = 4
	MsgFeedback       uint32 = 5
	MsgResult         uint32 = 6
	MsgCancelRequest  uint32 = 7
	MsgCancelResponse uint32 = 8
	MsgPublish        uint32 = 9
	MsgError          uint32 = 10
)

// Field IDs from the action wire contract.
const (
	FieldPeerID      uint16 = 1
	FieldTimestampNS uint16 = 2
	FieldActionName  uint16 = 3

	FieldGoalID     uint16 = 100
	FieldStampNS    uint16 = 101
	FieldFrameID    uint16 = 102
	FieldJointName  uint16 = 103
	FieldPointCount uint16 = 104

	FieldAccepted   uint16 = 200
	FieldGoalStatus uint16 = 201
	FieldReturnCode uint16 = 202

	FieldErrorCode uint16 = 300
	FieldMessage   uint16 = 301

	FieldTopic uint16 = 400
	FieldData  uint16 = 401
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgHello: {
		{FieldPeerID, tlv.TypeString},
	},
	MsgHelloAck: {
		{FieldPeerID, tlv.TypeString},
		{FieldActionName, tlv.TypeString},
		{FieldTimestampNS, tlv.TypeU64},
	},
	MsgGoalRequest: {
		{FieldGoalID, tlv.TypeString},
		{FieldActionName, tlv.TypeString},
		{FieldStampNS, tlv.TypeU64},
		{FieldFrameID, tlv.TypeString},
		{FieldPointCount, tlv.TypeU32},
	},
	MsgGoalResponse: {
		{FieldGoalID, tlv.TypeString},
		{FieldAccepted, tlv.TypeBool},
		{FieldTimestampNS, tlv.TypeU64},
	},
	MsgFeedback: {
		{FieldGoalID, tlv.TypeString},
		{FieldStampNS, tlv.TypeU64},
		{FieldGoalStatus, tlv.TypeString},
	},
	MsgResult: {
		{FieldGoalID, tlv.TypeString},
		{FieldGoalStatus, tlv.TypeString},
		{FieldErrorCode, tlv.TypeU32},
	},
	MsgCancelRequest: {
		{FieldGoalID, tlv.TypeString},
	},
	MsgCancelResponse: {
		{FieldGoalID, tlv.TypeString},
		{FieldReturnCode, tlv.TypeU32},
	},
	MsgPublish: {
		{FieldTopic, tlv.TypeString},
		{FieldData, tlv.TypeString},
	},
	MsgError: {
		{FieldErrorCode, tlv.TypeU32},
		{FieldMessage, tlv.TypeString},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}
