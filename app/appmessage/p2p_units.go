package appmessage

import (
	"github.com/selfnet/selfd/domain/txpow"
	"github.com/selfnet/selfd/util/binaryserializer"
)

// MsgUnitAnnounce advertises a unit by ID only.
type MsgUnitAnnounce struct {
	baseMessage
	ID txpow.ID
}

// Command returns the protocol command string for the message
func (msg *MsgUnitAnnounce) Command() MessageCommand {
	return CmdUnitAnnounce
}

func (msg *MsgUnitAnnounce) encode(writer *binaryserializer.Writer) {
	writer.Fixed(msg.ID[:])
}

func (msg *MsgUnitAnnounce) decode(reader *binaryserializer.Reader) {
	reader.Fixed(msg.ID[:])
}

// NewMsgUnitAnnounce returns a new unit announce message
func NewMsgUnitAnnounce(id txpow.ID) *MsgUnitAnnounce {
	return &MsgUnitAnnounce{ID: id}
}

// MsgUnitRequest asks for a unit by ID.
type MsgUnitRequest struct {
	baseMessage
	ID txpow.ID
}

// Command returns the protocol command string for the message
func (msg *MsgUnitRequest) Command() MessageCommand {
	return CmdUnitRequest
}

func (msg *MsgUnitRequest) encode(writer *binaryserializer.Writer) {
	writer.Fixed(msg.ID[:])
}

func (msg *MsgUnitRequest) decode(reader *binaryserializer.Reader) {
	reader.Fixed(msg.ID[:])
}

// NewMsgUnitRequest returns a new unit request message
func NewMsgUnitRequest(id txpow.ID) *MsgUnitRequest {
	return &MsgUnitRequest{ID: id}
}

// MsgUnit carries a single unit.
type MsgUnit struct {
	baseMessage
	Unit *txpow.TxPoW
}

// Command returns the protocol command string for the message
func (msg *MsgUnit) Command() MessageCommand {
	return CmdUnit
}

func (msg *MsgUnit) encode(writer *binaryserializer.Writer) {
	txpow.WriteUnit(writer, msg.Unit)
}

func (msg *MsgUnit) decode(reader *binaryserializer.Reader) {
	msg.Unit = txpow.ReadUnit(reader)
}

// NewMsgUnit returns a new unit message
func NewMsgUnit(unit *txpow.TxPoW) *MsgUnit {
	return &MsgUnit{Unit: unit}
}

// MsgBlockAnnounce advertises a block together with its transactions by
// the block ID.
type MsgBlockAnnounce struct {
	baseMessage
	ID txpow.ID
}

// Command returns the protocol command string for the message
func (msg *MsgBlockAnnounce) Command() MessageCommand {
	return CmdBlockAnnounce
}

func (msg *MsgBlockAnnounce) encode(writer *binaryserializer.Writer) {
	writer.Fixed(msg.ID[:])
}

func (msg *MsgBlockAnnounce) decode(reader *binaryserializer.Reader) {
	reader.Fixed(msg.ID[:])
}

// NewMsgBlockAnnounce returns a new block announce message
func NewMsgBlockAnnounce(id txpow.ID) *MsgBlockAnnounce {
	return &MsgBlockAnnounce{ID: id}
}

// MsgBlockRequest asks for a block with its transactions.
type MsgBlockRequest struct {
	baseMessage
	ID txpow.ID
}

// Command returns the protocol command string for the message
func (msg *MsgBlockRequest) Command() MessageCommand {
	return CmdBlockRequest
}

func (msg *MsgBlockRequest) encode(writer *binaryserializer.Writer) {
	writer.Fixed(msg.ID[:])
}

func (msg *MsgBlockRequest) decode(reader *binaryserializer.Reader) {
	reader.Fixed(msg.ID[:])
}

// NewMsgBlockRequest returns a new block request message
func NewMsgBlockRequest(id txpow.ID) *MsgBlockRequest {
	return &MsgBlockRequest{ID: id}
}

// MsgBlock carries a block with its transactions.
type MsgBlock struct {
	baseMessage
	Block *txpow.TxBlock
}

// Command returns the protocol command string for the message
func (msg *MsgBlock) Command() MessageCommand {
	return CmdBlock
}

func (msg *MsgBlock) encode(writer *binaryserializer.Writer) {
	txpow.WriteTxBlock(writer, msg.Block)
}

func (msg *MsgBlock) decode(reader *binaryserializer.Reader) {
	msg.Block = txpow.ReadTxBlock(reader)
}

// NewMsgBlock returns a new block message
func NewMsgBlock(block *txpow.TxBlock) *MsgBlock {
	return &MsgBlock{Block: block}
}
