package appmessage

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/util/binaryserializer"
)

// ErrMalformedMessage is returned for payloads that do not decode to exactly
// one message.
var ErrMalformedMessage = errors.New("malformed message")

// Serialize encodes message as its command tag followed by its payload.
func Serialize(message Message) ([]byte, error) {
	var buffer bytes.Buffer
	writer := binaryserializer.NewWriter(&buffer)
	writer.Uint8(uint8(message.Command()))
	message.encode(writer)
	if writer.Err() != nil {
		return nil, writer.Err()
	}
	if buffer.Len() > MaxMessagePayload {
		return nil, errors.Errorf("%s message of %d bytes exceeds the maximum of %d",
			message.Command(), buffer.Len(), MaxMessagePayload)
	}
	return buffer.Bytes(), nil
}

// Deserialize decodes a payload produced by Serialize.
func Deserialize(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, errors.Wrap(ErrMalformedMessage, "empty payload")
	}
	command := MessageCommand(payload[0])
	message, err := makeEmptyMessage(command)
	if err != nil {
		return nil, err
	}
	body := bytes.NewReader(payload[1:])
	reader := binaryserializer.NewReader(body)
	message.decode(reader)
	if reader.Err() != nil {
		return nil, errors.Wrapf(ErrMalformedMessage, "%s: %s", command, reader.Err())
	}
	if body.Len() != 0 {
		return nil, errors.Wrapf(ErrMalformedMessage, "%s: %d trailing bytes", command, body.Len())
	}
	return message, nil
}

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command MessageCommand) (Message, error) {
	var msg Message
	switch command {
	case CmdGreeting:
		msg = &MsgGreeting{}
	case CmdInitialBatch:
		msg = &MsgInitialBatch{}
	case CmdUnitAnnounce:
		msg = &MsgUnitAnnounce{}
	case CmdUnitRequest:
		msg = &MsgUnitRequest{}
	case CmdUnit:
		msg = &MsgUnit{}
	case CmdSyncRequest:
		msg = &MsgSyncRequest{}
	case CmdSyncResponse:
		msg = &MsgSyncResponse{}
	case CmdArchiveRequest:
		msg = &MsgArchiveRequest{}
	case CmdArchiveResponse:
		msg = &MsgArchiveResponse{}
	case CmdBlockAnnounce:
		msg = &MsgBlockAnnounce{}
	case CmdBlockRequest:
		msg = &MsgBlockRequest{}
	case CmdBlock:
		msg = &MsgBlock{}
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unhandled command [%d]", uint8(command))
	}
	return msg, nil
}
