// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package appmessage

import (
	"fmt"
	"time"

	"github.com/selfnet/selfd/util/binaryserializer"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of other
// individual limits imposed by messages themselves.
const MaxMessagePayload = 1024 * 1024 * 64 // 64MB

// ProtocolVersion is the latest protocol version this package supports.
const ProtocolVersion uint32 = 1

// MessageCommand is the byte tag at the start of every encoded message.
type MessageCommand uint8

func (cmd MessageCommand) String() string {
	cmdString, ok := ProtocolMessageCommandToString[cmd]
	if !ok {
		cmdString = "unknown command"
	}
	return fmt.Sprintf("%s [code %d]", cmdString, uint8(cmd))
}

// Commands used in message tags. The values are part of the wire format.
const (
	CmdGreeting        MessageCommand = 0
	CmdInitialBatch    MessageCommand = 1
	CmdUnitAnnounce    MessageCommand = 2
	CmdUnitRequest     MessageCommand = 3
	CmdUnit            MessageCommand = 4
	CmdSyncRequest     MessageCommand = 13
	CmdSyncResponse    MessageCommand = 14
	CmdArchiveRequest  MessageCommand = 15
	CmdArchiveResponse MessageCommand = 16
	CmdBlockAnnounce   MessageCommand = 18
	CmdBlockRequest    MessageCommand = 19
	CmdBlock           MessageCommand = 20
)

// ProtocolMessageCommandToString maps all MessageCommands to their string representation
var ProtocolMessageCommandToString = map[MessageCommand]string{
	CmdGreeting:        "Greeting",
	CmdInitialBatch:    "InitialBatch",
	CmdUnitAnnounce:    "UnitAnnounce",
	CmdUnitRequest:     "UnitRequest",
	CmdUnit:            "Unit",
	CmdSyncRequest:     "SyncRequest",
	CmdSyncResponse:    "SyncResponse",
	CmdArchiveRequest:  "ArchiveRequest",
	CmdArchiveResponse: "ArchiveResponse",
	CmdBlockAnnounce:   "BlockAnnounce",
	CmdBlockRequest:    "BlockRequest",
	CmdBlock:           "Block",
}

// Message is an interface that describes a selfd message. The set of
// implementations is closed: only the types of this package satisfy it.
type Message interface {
	Command() MessageCommand
	MessageNumber() uint64
	SetMessageNumber(index uint64)
	ReceivedAt() time.Time
	SetReceivedAt(receivedAt time.Time)

	encode(writer *binaryserializer.Writer)
	decode(reader *binaryserializer.Reader)
}

type baseMessage struct {
	messageNumber uint64
	receivedAt    time.Time
}

func (b *baseMessage) MessageNumber() uint64 {
	return b.messageNumber
}

func (b *baseMessage) SetMessageNumber(messageNumber uint64) {
	b.messageNumber = messageNumber
}

func (b *baseMessage) ReceivedAt() time.Time {
	return b.receivedAt
}

func (b *baseMessage) SetReceivedAt(receivedAt time.Time) {
	b.receivedAt = receivedAt
}
